package collector

import "context"

// Partition 已挂载的分区
type Partition struct {
	Device     string // 设备路径，如 /dev/sda1
	Mountpoint string // 挂载点，如 /data
}

// Source 主机指标数据源（隔离 gopsutil，测试时可替换为假实现）
// 每个方法返回 字段名 -> 数值；按设备划分的类别返回 设备 -> 字段名 -> 数值
type Source interface {
	// CPULoad 整机 CPU 使用率（百分比）
	CPULoad(ctx context.Context) (float64, error)
	// CPUTimes 各模式累计时间
	CPUTimes(ctx context.Context) (map[string]float64, error)
	Memory(ctx context.Context) (map[string]float64, error)
	Swap(ctx context.Context) (map[string]float64, error)
	Partitions(ctx context.Context) ([]Partition, error)
	// DiskUsage 分区空间占用
	DiskUsage(ctx context.Context, mountpoint string) (map[string]float64, error)
	// DiskIO 按磁盘的 IO 计数
	DiskIO(ctx context.Context) (map[string]map[string]float64, error)
	// NetIO 按网卡的 IO 计数
	NetIO(ctx context.Context) (map[string]map[string]float64, error)
}
