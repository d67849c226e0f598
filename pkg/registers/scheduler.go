package registers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/node-manager/pkg/logger"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

// CaptureScheduler 实现 Scheduler：按固定间隔依次调用已注册的采集器
type CaptureScheduler struct {
	interval time.Duration
	clock    clockwork.Clock

	mu         sync.Mutex
	collectors []Collector
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewScheduler 创建调度器；clock 为 nil 时使用真实时钟
func NewScheduler(interval time.Duration, clock clockwork.Clock) *CaptureScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CaptureScheduler{
		interval:   interval,
		clock:      clock,
		collectors: make([]Collector, 0),
	}
}

// Register 注册采集器
func (s *CaptureScheduler) Register(c Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectors = append(s.collectors, c)
}

func (s *CaptureScheduler) snapshot() []Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Collector(nil), s.collectors...)
}

// InitAll 依次初始化，遇到第一个失败即返回
func (s *CaptureScheduler) InitAll() error {
	for _, coll := range s.snapshot() {
		if err := coll.Init(); err != nil {
			return fmt.Errorf("collector %s init failed: %w", coll.Name(), err)
		}
		logger.Debug("collector initialized successfully", logger.Component("scheduler"), zap.String("name", coll.Name()))
	}
	return nil
}

// Start 初始化全部采集器后立即采集一次，之后每个 interval 采集一次。
// 采集循环在 ctx 结束或 Shutdown 时退出。
func (s *CaptureScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	if err := s.InitAll(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	n := len(s.collectors)
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	logger.Info("capture scheduler started", logger.Component("scheduler"),
		zap.Duration("interval", s.interval), zap.Int("collectors", n))

	go func() {
		defer close(done)
		defer ticker.Stop()

		// 首次采集（失败仅警告）
		if err := s.CollectAll(ctx); err != nil {
			logger.Warn("first collection failed", logger.Component("scheduler"), zap.Error(err))
		}
		for {
			select {
			case <-ticker.Chan():
				_ = s.CollectAll(ctx) // 单采集器失败不影响整体
			case <-ctx.Done():
				logger.Info("capture scheduler stopped", logger.Component("scheduler"), zap.Error(ctx.Err()))
				return
			}
		}
	}()
	return nil
}

// Shutdown 停止采集循环并关闭全部采集器；ctx 到期时不再等待循环退出
func (s *CaptureScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("capture loop did not exit in time", logger.Component("scheduler"))
		}
	}
	return s.CloseAll()
}

// CollectAll 依次采集，汇总所有失败
func (s *CaptureScheduler) CollectAll(ctx context.Context) error {
	var errs []error
	for _, coll := range s.snapshot() {
		if err := coll.Collect(ctx); err != nil {
			logger.Warn("collection failed", logger.Component("scheduler"), zap.String("name", coll.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", coll.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll 关闭全部采集器，单个失败不阻断其余
func (s *CaptureScheduler) CloseAll() error {
	var errs []error
	for _, coll := range s.snapshot() {
		if err := coll.Close(); err != nil {
			logger.Error("failed to close collector", logger.Component("scheduler"), zap.String("name", coll.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Debug("collector closed successfully", logger.Component("scheduler"), zap.String("name", coll.Name()))
	}
	return errors.Join(errs...)
}
