package registers

import "context"

// Scheduler 周期采集调度器（封装所有采集器的生命周期管理）
// 新的采集对象仅需实现 Collector 接口，通过 Register 注册即可
type Scheduler interface {
	Register(collector Collector)       // 注册采集器
	Start(ctx context.Context) error    // 初始化并启动定时采集
	Shutdown(ctx context.Context) error // 停止定时器并关闭全部采集器
}

// Collector 采集器核心接口（所有采集器必须实现）
type Collector interface {
	Name() string                      // 采集器名称（唯一标识）
	Init() error                       // 初始化（预检查资源）
	Collect(ctx context.Context) error // 采集一次
	Close() error                      // 关闭（释放资源）
}
