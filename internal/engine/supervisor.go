// Package engine 管理数据库引擎子进程：启动、建立控制通道、优雅停止与强制终止。
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/node-manager/internal/control"
	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/monitor"
)

var (
	ErrConnectionUnavailable = errors.New("engine: control port unavailable")
	ErrPortConflict          = errors.New("engine: node port conflicts with control port")
	ErrUnknownEngine         = errors.New("engine: unknown database engine")
	ErrNotReady              = errors.New("engine: not ready")
	// ErrStopIncomplete 上一次 Stop 在 kill 后仍未确认进程退出
	ErrStopIncomplete = errors.New("engine: previous stop did not complete")

	// errGracefulStopTimeout 触发强制终止，不返回给调用方
	errGracefulStopTimeout = errors.New("engine: graceful stop timeout")
)

const (
	DefaultGracefulTimeout = 5 * time.Second
	DefaultKillTimeout     = 5 * time.Second
)

// Config 单个引擎的静态配置
type Config struct {
	NodeID     string // host:port
	Executable string
	LogFile    string // 绝对路径
	// ControlIP 为空时使用节点 host；通配地址在连接时解析为本机接口地址
	ControlIP       string
	ControlPort     int
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
	Connect         control.ConnectOptions
	// 子进程输出文件轮转
	OutputMaxSize    int
	OutputMaxBackups int
}

type options struct {
	procs    ProcessControl
	dialer   control.Dialer
	metrics  *monitor.EngineMetrics
	clock    clockwork.Clock
	addrs    InterfaceAddrs
	resolver func(ctx context.Context, host string) ([]string, error)
}

type Option func(*options)

func WithProcessControl(p ProcessControl) Option {
	return func(o *options) { o.procs = p }
}

func WithDialer(d control.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithMetrics(m *monitor.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithInterfaceAddrs 替换通配地址解析用的本机地址来源
func WithInterfaceAddrs(f InterfaceAddrs) Option {
	return func(o *options) { o.addrs = f }
}

// WithResolver 替换节点 host 的解析（仅 Manager 使用）
func WithResolver(f func(ctx context.Context, host string) ([]string, error)) Option {
	return func(o *options) { o.resolver = f }
}

func buildOptions(opts []Option) options {
	o := options{
		procs:    OSProcessControl{},
		dialer:   control.ZMQDialer{},
		clock:    clockwork.NewRealClock(),
		addrs:    localInterfaceAddrs,
		resolver: net.DefaultResolver.LookupHost,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Info 引擎状态快照。Stopped 与 Starting 时没有 pid，json 中省略。
type Info struct {
	NodeID         string      `json:"node_id"`
	State          string      `json:"state"`
	Pid            int         `json:"pid,omitempty"`
	ControlAddress string      `json:"control_address"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	LastStatus     interface{} `json:"last_status,omitempty"`
}

// Supervisor 一个引擎进程及其控制通道。
// 不变式：pid 非 0 当且仅当状态是 Connecting、Ready 或 Stopping。
// Starting 只覆盖 spawn 调用本身，此时还没有 pid，Info 中 pid 字段省略。
// 控制通道只在 Ready 时存在。
type Supervisor struct {
	cfg  Config
	opts options

	// op 串行化 Start/Stop，mu 保护下面的字段供并发读取
	op sync.Mutex
	mu sync.Mutex

	state      State
	handle     Handle
	pid        int
	ch         *control.Channel
	out        io.Closer
	startedAt  time.Time
	lastStatus interface{}
}

// NewSupervisor 创建处于 Stopped 的 supervisor
func NewSupervisor(cfg Config, opts ...Option) *Supervisor {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	return &Supervisor{cfg: cfg, opts: buildOptions(opts)}
}

func (s *Supervisor) NodeID() string { return s.cfg.NodeID }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *Supervisor) fields() []zap.Field {
	return []zap.Field{logger.Component("engine"), zap.String("node", s.cfg.NodeID), zap.Int("pid", s.Pid())}
}

// BindAddress 传给引擎 -m 参数的控制地址
func (s *Supervisor) BindAddress() string {
	ip := s.cfg.ControlIP
	if ip == "" {
		ip, _, _ = net.SplitHostPort(s.cfg.NodeID)
	}
	return net.JoinHostPort(ip, strconv.Itoa(s.cfg.ControlPort))
}

func (s *Supervisor) connectAddress(ctx context.Context) (string, error) {
	host, port, err := net.SplitHostPort(s.BindAddress())
	if err != nil {
		return "", err
	}
	host, err = resolveConnectHost(ctx, host, s.opts.addrs)
	if err != nil {
		return "", fmt.Errorf("resolve control address %s: %w", s.BindAddress(), err)
	}
	return net.JoinHostPort(host, port), nil
}

func (s *Supervisor) countStart(result string) {
	if s.opts.metrics != nil {
		s.opts.metrics.Starts.WithLabelValues(result).Inc()
	}
}

func (s *Supervisor) countStop(result string) {
	if s.opts.metrics != nil {
		s.opts.metrics.Stops.WithLabelValues(result).Inc()
	}
}

// Start 启动引擎并建立控制通道。已在运行时为 no-op；
// Connecting（进程在、连接失败过）时只重试连接。
// Stopping 说明上一次 Stop 没能确认退出：进程已经退出则重新启动，否则返回 ErrStopIncomplete。
func (s *Supervisor) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	switch st := s.State(); st {
	case Starting, Ready:
		logger.Debug("database engine already started", append(s.fields(), zap.Stringer("state", st))...)
		return nil
	case Connecting:
		return s.connect(ctx)
	case Stopping:
		s.mu.Lock()
		h := s.handle
		s.mu.Unlock()
		if !s.opts.procs.Wait(h, 0) {
			logger.Error("unable to start database engine: previous instance still alive", s.fields()...)
			return fmt.Errorf("%w: %s pid %d", ErrStopIncomplete, s.cfg.NodeID, h.Pid())
		}
		logger.Info("previous database engine exited", s.fields()...)
		s.release()
		s.countStop("exited")
	}

	_, nodePort, err := net.SplitHostPort(s.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("invalid node id %q: %w", s.cfg.NodeID, err)
	}
	if nodePort == strconv.Itoa(s.cfg.ControlPort) {
		logger.Error("unable to start database engine: port conflicts with control port",
			logger.Component("engine"), zap.String("node", s.cfg.NodeID), zap.Int("control_port", s.cfg.ControlPort))
		return fmt.Errorf("%w: %s", ErrPortConflict, s.cfg.NodeID)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.LogFile), 0o755); err != nil {
		return fmt.Errorf("create log dir for %s: %w", s.cfg.NodeID, err)
	}

	s.setState(Starting)
	out := &lumberjack.Logger{
		Filename:   s.cfg.LogFile + ".out",
		MaxSize:    s.cfg.OutputMaxSize,
		MaxBackups: s.cfg.OutputMaxBackups,
	}
	args := []string{"-m", s.BindAddress(), "-n", s.cfg.NodeID, "-l", s.cfg.LogFile}
	h, err := s.opts.procs.Spawn(s.cfg.Executable, args, out)
	if err != nil {
		_ = out.Close()
		s.setState(Stopped)
		s.countStart("spawn_failed")
		logger.Error("unable to spawn database engine", logger.Component("engine"),
			zap.String("node", s.cfg.NodeID), zap.String("executable", s.cfg.Executable), zap.Error(err))
		return fmt.Errorf("start %s: %w", s.cfg.NodeID, err)
	}

	s.mu.Lock()
	s.handle = h
	s.pid = h.Pid()
	s.out = out
	s.startedAt = s.opts.clock.Now()
	s.lastStatus = nil
	s.state = Connecting
	s.mu.Unlock()
	if s.opts.metrics != nil {
		s.opts.metrics.Running.Inc()
	}
	logger.Info("started database engine", append(s.fields(), zap.Strings("args", args))...)

	return s.connect(ctx)
}

// connect 失败时保持 Connecting，不杀进程，由调用方重试或停止
func (s *Supervisor) connect(ctx context.Context) error {
	addr, err := s.connectAddress(ctx)
	if err != nil {
		s.countStart("connect_failed")
		logger.Error("unable to resolve database engine control address", append(s.fields(), zap.Error(err))...)
		return fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	logger.Debug("connecting to database engine control port", append(s.fields(), zap.String("address", addr))...)
	opts := s.cfg.Connect
	opts.Metrics = s.opts.metrics
	ch, err := control.Connect(ctx, s.opts.dialer, addr, opts)
	if err != nil {
		s.countStart("connect_failed")
		logger.Error("unable to reach database engine control port",
			append(s.fields(), zap.String("address", addr), zap.Error(err))...)
		return fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, addr, err)
	}

	err = ch.SendAndAwait(control.StartDataEngine(s.cfg.NodeID), func(r control.Reply) {
		logger.Debug("database engine acknowledged start", append(s.fields(), zap.Int("bytes", len(r.Raw)))...)
	})
	if err != nil {
		_ = ch.Close()
		s.countStart("connect_failed")
		logger.Error("unable to send start command", append(s.fields(), zap.String("address", addr), zap.Error(err))...)
		return fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, addr, err)
	}

	s.mu.Lock()
	s.ch = ch
	s.state = Ready
	s.mu.Unlock()
	s.countStart("ok")
	logger.Info("database engine ready", append(s.fields(), zap.String("address", addr))...)
	return nil
}

// Stop 关闭控制通道并终止进程；优雅停止超时后强制 kill。
// 超时不算失败，只有 kill 之后仍无法确认退出才返回错误。
func (s *Supervisor) Stop(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		logger.Debug("database engine already stopped", logger.Component("engine"), zap.String("node", s.cfg.NodeID))
		return nil
	}
	s.state = Stopping
	h, ch := s.handle, s.ch
	s.ch = nil
	s.mu.Unlock()

	if ch != nil {
		logger.Debug("disconnecting from database engine control port", s.fields()...)
		if err := ch.Close(); err != nil {
			logger.Warn("close control channel", append(s.fields(), zap.Error(err))...)
		}
	}

	logger.Info("stopping database engine", s.fields()...)
	result := "graceful"
	if err := s.terminate(ctx, h); errors.Is(err, errGracefulStopTimeout) {
		result = "killed"
		logger.Warn("unable to gently terminate database engine, killing", s.fields()...)
		if err := s.opts.procs.Kill(h); err != nil {
			logger.Error("kill database engine", append(s.fields(), zap.Error(err))...)
		}
		if !s.opts.procs.Wait(h, s.cfg.KillTimeout) {
			s.countStop("failed")
			logger.Error("database engine still alive after kill", s.fields()...)
			return fmt.Errorf("stop %s: pid %d did not exit after kill", s.cfg.NodeID, h.Pid())
		}
	}

	s.release()
	s.countStop(result)
	logger.Info("stopped database engine", logger.Component("engine"),
		zap.String("node", s.cfg.NodeID), zap.String("result", result))
	return nil
}

// release 进程已确认退出，回到 Stopped
func (s *Supervisor) release() {
	s.mu.Lock()
	if s.out != nil {
		_ = s.out.Close()
		s.out = nil
	}
	s.handle = nil
	s.pid = 0
	s.state = Stopped
	s.mu.Unlock()
	if s.opts.metrics != nil {
		s.opts.metrics.Running.Dec()
	}
}

// terminate 发送终止信号并等待；ctx 的 deadline 会缩短等待时间
func (s *Supervisor) terminate(ctx context.Context, h Handle) error {
	if err := s.opts.procs.Terminate(h); err != nil {
		logger.Warn("terminate database engine", append(s.fields(), zap.Error(err))...)
	}
	wait := s.cfg.GracefulTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = max(left, 0)
		}
	}
	if !s.opts.procs.Wait(h, wait) {
		return errGracefulStopTimeout
	}
	return nil
}

// Process Ready 时轮询控制通道，否则立即返回
func (s *Supervisor) Process(timeout time.Duration) error {
	s.mu.Lock()
	ch, st := s.ch, s.state
	s.mu.Unlock()
	if st != Ready || ch == nil {
		return nil
	}
	return ch.Process(timeout)
}

// RequestStatus 发送 Status(ALL)，应答记录在 Info.LastStatus
func (s *Supervisor) RequestStatus() error {
	s.mu.Lock()
	ch, st := s.ch, s.state
	s.mu.Unlock()
	if st != Ready || ch == nil {
		return ErrNotReady
	}
	return ch.SendAndAwait(control.Status(""), func(r control.Reply) {
		var v interface{}
		if err := r.Decode(&v); err != nil {
			logger.Warn("undecodable status reply", append(s.fields(), zap.Error(err))...)
			v = map[string]interface{}{"error": err.Error()}
		}
		s.mu.Lock()
		s.lastStatus = v
		s.mu.Unlock()
	})
}

// Info 返回当前状态快照
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		NodeID:         s.cfg.NodeID,
		State:          s.state.String(),
		Pid:            s.pid,
		ControlAddress: s.BindAddress(),
		LastStatus:     s.lastStatus,
	}
	if s.state != Stopped && !s.startedAt.IsZero() {
		t := s.startedAt
		info.StartedAt = &t
	}
	return info
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
