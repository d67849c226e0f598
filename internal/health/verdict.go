package health

import (
	"time"

	"go.uber.org/zap"

	"github.com/node-manager/pkg/logger"
)

// IsHealthy 最近 window 内的均值判定：告警中需低于 low 才恢复，否则低于 high 即健康
func (r *Registry) IsHealthy(name string, window time.Duration, alerting bool, low, high float64) (bool, error) {
	now := r.clock.Now()
	avg, err := r.Avg(name, now.Add(-window), now)
	if err != nil {
		return false, err
	}
	if alerting {
		return avg < low, nil
	}
	return avg < high, nil
}

// IsMemoryHealthy mem.percent 的滞回判定，告警状态在注册表内保持
func (r *Registry) IsMemoryHealthy(window time.Duration, low, high float64) (bool, error) {
	r.alertMu.Lock()
	defer r.alertMu.Unlock()
	return r.verdict("mem.percent", &r.memoryAlert, window, low, high)
}

// IsSwapHealthy swp.percent 的滞回判定
func (r *Registry) IsSwapHealthy(window time.Duration, low, high float64) (bool, error) {
	r.alertMu.Lock()
	defer r.alertMu.Unlock()
	return r.verdict("swp.percent", &r.swapAlert, window, low, high)
}

// verdict 调用方持有 alertMu；判定失败时告警状态不变
func (r *Registry) verdict(name string, alert *bool, window time.Duration, low, high float64) (bool, error) {
	healthy, err := r.IsHealthy(name, window, *alert, low, high)
	if err != nil {
		return false, err
	}
	if *alert == healthy {
		if healthy {
			logger.Info("health alert cleared", logger.Component("health"), zap.String("metric", name))
		} else {
			logger.Warn("health alert raised", logger.Component("health"), zap.String("metric", name),
				zap.Float64("high_water", high), zap.Duration("window", window))
		}
	}
	*alert = !healthy
	if r.metrics != nil {
		v := 0.0
		if *alert {
			v = 1
		}
		r.metrics.Alert.WithLabelValues(name).Set(v)
	}
	return healthy, nil
}

// Alerts 当前告警状态
func (r *Registry) Alerts() (memory, swap bool) {
	r.alertMu.Lock()
	defer r.alertMu.Unlock()
	return r.memoryAlert, r.swapAlert
}
