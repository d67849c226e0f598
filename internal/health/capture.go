package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/node-manager/pkg/logger"
)

// Capture 采集一次所有类别；每个类别（以及每个分区的空间读取）互相隔离，
// 失败时记录日志、计数并把已有的 series 标记为缺失，返回所有失败的合并错误
func (r *Registry) Capture(ctx context.Context) error {
	start := r.clock.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.CaptureDuration.Observe(r.clock.Since(start).Seconds())
		}
	}()

	var errs []error
	fail := func(c Category, err error) {
		r.captureFailed(c, err)
		errs = append(errs, fmt.Errorf("%s: %w", c, err))
	}

	if load, err := r.source.CPULoad(ctx); err != nil {
		fail(CategoryCPU, err)
		r.markAbsent(Name{Category: CategoryCPU, Field: "load"}.String())
	} else {
		r.update(Name{Category: CategoryCPU, Field: "load"}.String(), load)
	}

	if err := r.captureFields(ctx, CategoryCPU, CPUModes, r.source.CPUTimes); err != nil {
		fail(CategoryCPU, err)
	}
	if err := r.captureFields(ctx, CategoryMemory, MemoryFields, r.source.Memory); err != nil {
		fail(CategoryMemory, err)
	}
	if err := r.captureFields(ctx, CategorySwap, SwapFields, r.source.Swap); err != nil {
		fail(CategorySwap, err)
	}

	if counters, err := r.source.NetIO(ctx); err != nil {
		fail(CategoryNetIO, err)
		r.markCategoryAbsent(CategoryNetIO, "")
	} else {
		r.captureDevices(CategoryNetIO, NetIOFields, counters)
	}

	if counters, err := r.source.DiskIO(ctx); err != nil {
		fail(CategoryDiskIO, err)
		r.markCategoryAbsent(CategoryDiskIO, "")
	} else {
		r.captureDevices(CategoryDiskIO, DiskIOFields, counters)
	}

	if err := r.captureDiskSpace(ctx); err != nil {
		fail(CategoryDiskSpace, err)
	}

	return errors.Join(errs...)
}

func (r *Registry) captureFields(ctx context.Context, c Category, fields []string, read func(context.Context) (map[string]float64, error)) error {
	values, err := read(ctx)
	if err != nil {
		for _, f := range fields {
			r.markAbsent(Name{Category: c, Field: f}.String())
		}
		return err
	}
	for _, f := range fields {
		name := Name{Category: c, Field: f}.String()
		if v, ok := values[f]; ok {
			r.update(name, v)
		} else {
			r.markAbsent(name)
		}
	}
	return nil
}

func (r *Registry) ignored(c Category, dev string) bool {
	if c == CategoryNetIO {
		return r.ignoreNIC[dev]
	}
	return r.ignoreDisk[dev]
}

func (r *Registry) captureDevices(c Category, fields []string, counters map[string]map[string]float64) {
	for dev, values := range counters {
		if r.ignored(c, dev) {
			continue
		}
		for _, f := range fields {
			name := Name{Category: c, Device: dev, Field: f}.String()
			if v, ok := values[f]; ok {
				r.update(name, v)
			} else {
				r.markAbsent(name)
			}
		}
	}
}

func (r *Registry) captureDiskSpace(ctx context.Context) error {
	parts, err := r.source.Partitions(ctx)
	if err != nil {
		r.markCategoryAbsent(CategoryDiskSpace, "")
		return err
	}
	var errs []error
	for _, p := range parts {
		dev := DeviceName(p.Device)
		if dev == "" || r.ignored(CategoryDiskSpace, dev) {
			continue
		}
		usage, err := r.source.DiskUsage(ctx, p.Mountpoint)
		if err != nil {
			r.markCategoryAbsent(CategoryDiskSpace, dev)
			errs = append(errs, fmt.Errorf("%s (%s): %w", dev, p.Mountpoint, err))
			continue
		}
		r.captureDevices(CategoryDiskSpace, DiskSpaceFields, map[string]map[string]float64{dev: usage})
	}
	return errors.Join(errs...)
}

func (r *Registry) update(name string, v float64) {
	s, err := r.getOrCreate(name)
	if err != nil {
		logger.Error("failed to create series", logger.Component("health"), zap.String("metric", name), zap.Error(err))
		return
	}
	if err := s.Update(v); err != nil {
		logger.Error("failed to write series", logger.Component("health"), zap.String("metric", name), zap.Error(err))
	}
}

// markAbsent 只标记已存在的 series，不为失败的读取新建
func (r *Registry) markAbsent(name string) {
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.UpdateAbsent(); err != nil {
		logger.Error("failed to write series", logger.Component("health"), zap.String("metric", name), zap.Error(err))
	}
}

// markCategoryAbsent 标记类别下（可选限定设备）所有已存在的 series 为缺失
func (r *Registry) markCategoryAbsent(c Category, device string) {
	prefix := string(c) + "."
	if device != "" {
		prefix += device + "."
	}
	r.mu.RLock()
	var names []string
	for name := range r.series {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	for _, name := range names {
		r.markAbsent(name)
	}
}

func (r *Registry) captureFailed(c Category, err error) {
	logger.Warn("health capture failed", logger.Component("health"), zap.String("category", string(c)), zap.Error(err))
	if r.metrics != nil {
		r.metrics.CaptureErrors.WithLabelValues(string(c)).Inc()
	}
}

// ---------------- 实现 registers.Collector ----------------

func (r *Registry) Name() string { return "health" }

// Init 确认落盘目录可写
func (r *Registry) Init() error {
	if r.dir == "" {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create health dir %s: %w", r.dir, err)
	}
	return nil
}

// Collect 采集一次，配置了阈值时顺带做健康判定
func (r *Registry) Collect(ctx context.Context) error {
	err := r.Capture(ctx)
	if r.thresholds != nil {
		r.checkVerdicts()
	}
	return err
}

func (r *Registry) checkVerdicts() {
	t := r.thresholds
	checks := []struct {
		metric string
		check  func(time.Duration, float64, float64) (bool, error)
		low    float64
		high   float64
	}{
		{"mem.percent", r.IsMemoryHealthy, t.MemoryLow, t.MemoryHigh},
		{"swp.percent", r.IsSwapHealthy, t.SwapLow, t.SwapHigh},
	}
	for _, c := range checks {
		if _, err := c.check(t.Window, c.low, c.high); err != nil {
			logger.Debug("health verdict skipped", logger.Component("health"), zap.String("metric", c.metric), zap.Error(err))
		}
	}
}
