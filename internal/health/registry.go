// Package health 主机健康时间序列：按固定周期从数据源采集 CPU、内存、交换分区、
// 磁盘和网卡计数，每个标量写入一条 series，并提供聚合查询和滞回健康判定。
package health

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/node-manager/internal/series"
	"github.com/node-manager/pkg/collector"
	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/monitor"
)

var ErrUnknownMetric = errors.New("health: unknown metric")

// Thresholds 内存/交换分区滞回阈值，百分比
type Thresholds struct {
	Window     time.Duration
	MemoryLow  float64
	MemoryHigh float64
	SwapLow    float64
	SwapHigh   float64
}

// Registry 指标名 -> series，静态指标创建时即建好，按设备的指标在采集时按需创建
type Registry struct {
	dir        string
	tiers      []series.Tier
	source     collector.Source
	clock      clockwork.Clock
	metrics    *monitor.HealthMetrics
	thresholds *Thresholds
	ignoreDisk map[string]bool
	ignoreNIC  map[string]bool

	mu     sync.RWMutex
	series map[string]*series.Series

	alertMu     sync.Mutex
	memoryAlert bool
	swapAlert   bool
}

type Option func(*Registry)

// WithTiers 指定新建 series 的档位（已存在的文件保持原布局）
func WithTiers(tiers []series.Tier) Option {
	return func(r *Registry) { r.tiers = tiers }
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithMetrics(m *monitor.HealthMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithThresholds 每次采集后做一次内存/交换分区健康判定
func WithThresholds(t Thresholds) Option {
	return func(r *Registry) { r.thresholds = &t }
}

// WithIgnore 跳过指定磁盘（/dev/sda 或 sda）与网卡
func WithIgnore(disks, nics []string) Option {
	return func(r *Registry) {
		r.ignoreDisk = make(map[string]bool, len(disks))
		for _, d := range disks {
			r.ignoreDisk[DeviceName(d)] = true
		}
		r.ignoreNIC = make(map[string]bool, len(nics))
		for _, n := range nics {
			r.ignoreNIC[n] = true
		}
	}
}

// New 创建注册表；dir 为空时只保存在内存
func New(dir string, source collector.Source, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		tiers:  series.DefaultTiers,
		source: source,
		clock:  clockwork.NewRealClock(),
		series: make(map[string]*series.Series),
	}
	for _, o := range opts {
		o(r)
	}
	if err := series.ValidateTiers(r.tiers); err != nil {
		return nil, err
	}

	var static []string
	for _, c := range []Category{CategoryCPU, CategoryMemory, CategorySwap} {
		for _, f := range c.Fields() {
			static = append(static, Name{Category: c, Field: f}.String())
		}
	}
	for _, name := range static {
		if _, err := r.getOrCreate(name); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Dir 落盘目录
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) open(name string) (*series.Series, error) {
	if r.dir == "" {
		return series.New(name, r.tiers, series.WithClock(r.clock))
	}
	return series.Open(series.PathFor(r.dir, name), name, r.tiers, series.WithClock(r.clock))
}

func (r *Registry) getOrCreate(name string) (*series.Series, error) {
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[name]; ok {
		return s, nil
	}
	s, err := r.open(name)
	if err != nil {
		return nil, fmt.Errorf("open series %s: %w", name, err)
	}
	r.series[name] = s
	if r.metrics != nil {
		r.metrics.SeriesTotal.Set(float64(len(r.series)))
	}
	logger.Debug("opened health series", logger.Component("health"),
		zap.String("metric", name), zap.String("path", s.Path()), zap.Duration("retention", s.Retention()))
	return s, nil
}

// Lookup 查找指标，内存中没有但磁盘上有文件时打开它（上次运行留下的设备）
func (r *Registry) Lookup(name string) (*series.Series, bool) {
	if _, err := ParseName(name); err != nil {
		return nil, false
	}
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if r.dir == "" {
		return nil, false
	}
	if _, err := os.Stat(series.PathFor(r.dir, name)); err != nil {
		return nil, false
	}
	s, err := r.getOrCreate(name)
	if err != nil {
		logger.Warn("failed to open persisted series", logger.Component("health"), zap.String("metric", name), zap.Error(err))
		return nil, false
	}
	return s, true
}

// MetricNames 内存中的指标和目录下 .dp 文件的并集，已排序
func (r *Registry) MetricNames() ([]string, error) {
	seen := make(map[string]struct{})
	r.mu.RLock()
	for name := range r.series {
		seen[name] = struct{}{}
	}
	r.mu.RUnlock()

	if r.dir != "" {
		err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if name, ok := series.NameFor(r.dir, path); ok {
				seen[name] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.dir, err)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Fetch 按名称读取窗口数据
func (r *Registry) Fetch(name string, from, until time.Time) (series.Window, []*float64, error) {
	s, ok := r.Lookup(name)
	if !ok {
		return series.Window{}, nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return s.Fetch(from, until)
}

// Aggregate 对 series 的窗口做聚合
func Aggregate(s *series.Series, op series.Op, from, until time.Time) (float64, error) {
	_, values, err := s.Fetch(from, until)
	if err != nil {
		return 0, err
	}
	v, err := series.Reduce(op, values)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", op, s.Name(), err)
	}
	return v, nil
}

func (r *Registry) aggregate(name string, op series.Op, from, until time.Time) (float64, error) {
	s, ok := r.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return Aggregate(s, op, from, until)
}

func (r *Registry) Min(name string, from, until time.Time) (float64, error) {
	return r.aggregate(name, series.OpMin, from, until)
}

func (r *Registry) Max(name string, from, until time.Time) (float64, error) {
	return r.aggregate(name, series.OpMax, from, until)
}

func (r *Registry) Avg(name string, from, until time.Time) (float64, error) {
	return r.aggregate(name, series.OpAvg, from, until)
}

// Close 关闭所有 series 文件
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.series {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
