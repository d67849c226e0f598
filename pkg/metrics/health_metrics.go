package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/node-manager/pkg/monitor"
)

// NewHealthMetrics 健康采集相关指标
// manager_capture_duration_seconds: 一次 Capture 的耗时分布，0.001s ~ 0.512s
// manager_capture_errors_total{category}: 各类别（cpu/mem/swp/dsk.space/dsk.io/net.io）读取失败次数
// manager_series_total: 已创建的序列数
// manager_health_alert{metric}: 滞回告警状态（1 告警，0 正常）
func (m *MetricFactory) NewHealthMetrics() *monitor.HealthMetrics {
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "manager_capture_duration_seconds",
		Help:    "Duration of one host health capture",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
	m.reg.MustRegister(duration)

	return &monitor.HealthMetrics{
		CaptureDuration: duration,
		CaptureErrors:   m.counterVec("manager_capture_errors_total", "Host counter reads that failed, by category", "category"),
		SeriesTotal:     m.gauge("manager_series_total", "Number of health time series"),
		Alert: func() *prometheus.GaugeVec {
			g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "manager_health_alert",
				Help: "Sticky hysteresis alert state per metric (1 alerting)",
			}, []string{"metric"})
			m.reg.MustRegister(g)
			return g
		}(),
	}
}
