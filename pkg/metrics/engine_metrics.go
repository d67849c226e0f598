package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/node-manager/pkg/monitor"
)

// NewEngineMetrics 引擎进程和控制通道相关指标
func (m *MetricFactory) NewEngineMetrics() *monitor.EngineMetrics {
	controlErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "manager_control_errors_total",
		Help: "Control channel transport failures",
	})
	m.reg.MustRegister(controlErrors)

	return &monitor.EngineMetrics{
		Starts:          m.counterVec("manager_engine_starts_total", "Engine start attempts by result", "result"),
		Stops:           m.counterVec("manager_engine_stops_total", "Engine stops by result", "result"),
		Running:         m.gauge("manager_engines_running", "Engine processes currently alive"),
		ControlRequests: m.counterVec("manager_control_requests_total", "Control requests sent by command", "command"),
		ControlErrors:   controlErrors,
	}
}

// NewHTTPMetrics HTTP 服务请求指标
func (m *MetricFactory) NewHTTPMetrics() *monitor.HTTPMetrics {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manager_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	m.reg.MustRegister(duration)

	return &monitor.HTTPMetrics{
		Requests: m.counterVec("manager_http_requests_total", "HTTP requests by route and status code", "route", "code"),
		Duration: duration,
	}
}
