package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/node-manager/internal/engine"
	"github.com/node-manager/internal/manager"
	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/monitor"
)

// API HTTP 层依赖的读模型与引擎控制，由 manager.Controller 实现
type API interface {
	NodeList() manager.NodeList
	NodeDetail(node string) manager.NodeDetail
	MetricNames() ([]string, error)
	QueryMetric(name, op string, from, until time.Time) (manager.MetricResult, error)
	StartEngine(ctx context.Context, node string)
	StopEngine(ctx context.Context, node string) error
	Engines() []engine.Info
}

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      config.ServerConfig
	api      API
	registry *prometheus.Registry
	metrics  *monitor.HTTPMetrics
	clock    clockwork.Clock
	server   *http.Server
	mux      *customMux

	mu       sync.Mutex
	listener net.Listener
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// customMux 自定义Mux，兼容原生用法并记录路由
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

type Option func(*Server)

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMetrics 按路由统计请求数和耗时
func WithMetrics(m *monitor.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Handle 注册路由时记录路径
func (m *customMux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, pattern)
	m.ServeMux.Handle(pattern, handler)
}

// Routes 已注册的路由
func (m *customMux) Routes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.routes...)
}

// NewHTTPServer 创建HTTP服务实例；registry 为 nil 时不暴露 /prometheus
func NewHTTPServer(cfg config.ServerConfig, api API, registry *prometheus.Registry, opts ...Option) *Server {
	srv := &Server{
		cfg:      cfg,
		api:      api,
		registry: registry,
		clock:    clockwork.NewRealClock(),
		mux:      &customMux{},
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerEndpoints()

	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(srv.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.GetGlobalLogger()),
	}
	return srv
}

// Handler 供测试直接驱动
func (s *Server) Handler() http.Handler { return s.server.Handler }

// registerEndpoints 注册核心路由
func (s *Server) registerEndpoints() {
	s.handle("GET /nodes/management/", s.handleNodeList)
	s.handle("GET /nodes/management/{node}/", s.handleNodeDetail)
	s.handle("GET /metrics/", s.handleMetricNames)
	s.handle("GET /metrics/{name}/{op}/", s.handleMetric)
	s.handle("GET /dbe/", s.handleEngines)
	s.handle("GET /dbe/{op}/{host}/{port}/", s.handleEngine)

	s.handle("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.registry != nil {
		s.mux.Handle("GET /prometheus", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(logger.GetGlobalLogger()),
		}))
	}
}

// handle 注册路由，并以路由模式作为指标标签
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	if s.metrics == nil {
		s.mux.Handle(pattern, h)
		return
	}
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		s.metrics.Requests.WithLabelValues(pattern, strconv.Itoa(sw.status)).Inc()
		s.metrics.Duration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	}))
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Debug(
			"HTTP request",
			logger.Component("http"),
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Start 监听并在后台提供服务；监听失败直接返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info(
		"starting HTTP server",
		logger.Component("http"),
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("handle_funcs", s.mux.Routes()),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", logger.Component("http"), zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址（配置端口为 0 时有用）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("HTTP shutdown timeout exceeded", logger.Component("http"))
			return s.server.Close()
		}
		logger.Error("HTTP server shutdown failed", logger.Component("http"), zap.Error(err))
		return err
	}
	logger.Info("HTTP server shutdown successfully", logger.Component("http"))
	return nil
}
