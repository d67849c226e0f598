package monitor

import "github.com/prometheus/client_golang/prometheus"

// -------------------------- 健康采集指标结构体 --------------------------
type HealthMetrics struct {
	CaptureDuration prometheus.Histogram   // 单次采集耗时（秒）
	CaptureErrors   *prometheus.CounterVec // 按类别统计的采集失败次数（category）
	SeriesTotal     prometheus.Gauge       // 当前已创建的时间序列数量
	Alert           *prometheus.GaugeVec   // 告警状态，1 为告警中（metric）
}

// -------------------------- 引擎管理指标结构体 --------------------------
type EngineMetrics struct {
	Starts          *prometheus.CounterVec // 启动结果（result=ok/spawn_failed/connect_failed）
	Stops           *prometheus.CounterVec // 停止结果（result=graceful/killed/failed）
	Running         prometheus.Gauge       // 存活的引擎进程数
	ControlRequests *prometheus.CounterVec // 控制通道请求数（command）
	ControlErrors   prometheus.Counter     // 控制通道传输错误
}

// -------------------------- HTTP 服务指标结构体 --------------------------
type HTTPMetrics struct {
	Requests *prometheus.CounterVec   // 请求数（route、code）
	Duration *prometheus.HistogramVec // 请求耗时（route）
}
