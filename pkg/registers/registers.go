package registers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/node-manager/internal/cluster"
	"github.com/node-manager/internal/health"
	"github.com/node-manager/pkg/collector"
	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/metrics"
)

var ErrNoCollectors = errors.New("no collectors enabled")

type Module struct {
	Enabled bool
	Name    string
	NewFunc func() Collector
}

// NewHealthRegistry 按配置创建健康注册表，序列落在 <data_dir>/health/<host>/<port>
func NewHealthRegistry(cfg *config.Config, factory *metrics.MetricFactory, source collector.Source) (*health.Registry, error) {
	tiers, err := cfg.Health.ParsedTiers()
	if err != nil {
		return nil, err
	}
	opts := []health.Option{
		health.WithTiers(tiers),
		health.WithIgnore(cfg.Health.IgnoreDisks, cfg.Health.IgnoreNetworks),
	}
	if factory != nil {
		opts = append(opts, health.WithMetrics(factory.NewHealthMetrics()))
	}
	if th := cfg.Health.Thresholds; th.Enable {
		opts = append(opts, health.WithThresholds(health.Thresholds{
			Window:     th.Window,
			MemoryLow:  th.MemoryLow,
			MemoryHigh: th.MemoryHigh,
			SwapLow:    th.SwapLow,
			SwapHigh:   th.SwapHigh,
		}))
	}
	reg, err := health.New(cfg.Manager.HealthDir(), source, opts...)
	if err != nil {
		return nil, fmt.Errorf("create health registry: %w", err)
	}
	return reg, nil
}

// InitCapture 注册健康采集与集群视图刷新，并启动调度器。
// 返回的 Scheduler 关闭时一并关闭 health 注册表。
func InitCapture(ctx context.Context, cfg *config.Config, reg *health.Registry, view *cluster.View) (Scheduler, error) {
	s := NewScheduler(cfg.Health.Interval, nil)

	modules := []Module{
		{
			Enabled: reg != nil,
			Name:    "health",
			NewFunc: func() Collector { return reg },
		},
		{
			Enabled: cfg.Cluster.Enable && view != nil,
			Name:    "cluster",
			NewFunc: func() Collector { return NewViewCollector(view) },
		},
	}
	if _, err := RegisterCollectors(s, modules); err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.CloseAll()
		return nil, err
	}
	return s, nil
}

// RegisterCollectors 采集器注册统一入口：开关控制，返回所有已注册采集器。
// 新增采集对象只需在 modules 列表添加一条。
func RegisterCollectors(s Scheduler, modules []Module) ([]Collector, error) {
	var registered []Collector
	for _, m := range modules {
		if !m.Enabled {
			logger.Debug("collector disabled", logger.Component("scheduler"), zap.String("name", m.Name))
			continue
		}
		c := m.NewFunc()
		s.Register(c)
		registered = append(registered, c)
		logger.Debug("registered collector", logger.Component("scheduler"), zap.String("name", m.Name))
	}
	if len(registered) == 0 {
		return nil, ErrNoCollectors
	}

	names := make([]string, 0, len(registered))
	for _, c := range registered {
		names = append(names, c.Name())
	}
	logger.Debug("all enabled collectors registered", logger.Component("scheduler"), zap.Strings("enabled_collectors", names))
	return registered, nil
}

// ViewCollector 周期刷新集群视图，使峰值规模不依赖查询频率
type ViewCollector struct {
	view *cluster.View
}

func NewViewCollector(view *cluster.View) *ViewCollector {
	return &ViewCollector{view: view}
}

func (v *ViewCollector) Name() string { return "cluster" }

func (v *ViewCollector) Init() error { return nil }

func (v *ViewCollector) Collect(context.Context) error {
	v.view.Observe()
	return nil
}

func (v *ViewCollector) Close() error { return nil }
