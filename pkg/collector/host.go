package collector

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// HostSource 基于 gopsutil 的本机数据源
type HostSource struct{}

// NewHostSource 创建本机数据源
func NewHostSource() *HostSource { return &HostSource{} }

// CPULoad 整机 CPU 使用率，interval=0 时与上一次调用比较（首次调用为自启动以来）
func (h *HostSource) CPULoad(ctx context.Context) (float64, error) {
	usage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("get cpu percent failed: %w", err)
	}
	if len(usage) == 0 {
		return 0, fmt.Errorf("get cpu percent failed: empty result")
	}
	return usage[0], nil
}

func (h *HostSource) CPUTimes(ctx context.Context) (map[string]float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get cpu times failed: %w", err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("get cpu times failed: empty result")
	}
	t := times[0]
	return map[string]float64{
		"user":       t.User,
		"nice":       t.Nice,
		"system":     t.System,
		"idle":       t.Idle,
		"iowait":     t.Iowait,
		"irq":        t.Irq,
		"softirq":    t.Softirq,
		"steal":      t.Steal,
		"guest":      t.Guest,
		"guest_nice": t.GuestNice,
	}, nil
}

func (h *HostSource) Memory(ctx context.Context) (map[string]float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get virtual memory failed: %w", err)
	}
	return map[string]float64{
		"total":     float64(vm.Total),
		"available": float64(vm.Available),
		"percent":   vm.UsedPercent,
		"used":      float64(vm.Used),
		"free":      float64(vm.Free),
		"active":    float64(vm.Active),
		"inactive":  float64(vm.Inactive),
		"buffers":   float64(vm.Buffers),
		"cached":    float64(vm.Cached),
	}, nil
}

func (h *HostSource) Swap(ctx context.Context) (map[string]float64, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get swap memory failed: %w", err)
	}
	return map[string]float64{
		"total":   float64(sw.Total),
		"used":    float64(sw.Used),
		"free":    float64(sw.Free),
		"percent": sw.UsedPercent,
		"sin":     float64(sw.Sin),
		"sout":    float64(sw.Sout),
	}, nil
}

func (h *HostSource) Partitions(ctx context.Context) ([]Partition, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get partitions failed: %w", err)
	}
	out := make([]Partition, 0, len(parts))
	for _, p := range parts {
		out = append(out, Partition{Device: p.Device, Mountpoint: p.Mountpoint})
	}
	return out, nil
}

func (h *HostSource) DiskUsage(ctx context.Context, mountpoint string) (map[string]float64, error) {
	u, err := disk.UsageWithContext(ctx, mountpoint)
	if err != nil {
		return nil, fmt.Errorf("get disk usage of %s failed: %w", mountpoint, err)
	}
	return map[string]float64{
		"total":   float64(u.Total),
		"used":    float64(u.Used),
		"free":    float64(u.Free),
		"percent": u.UsedPercent,
	}, nil
}

func (h *HostSource) DiskIO(ctx context.Context) (map[string]map[string]float64, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get disk io counters failed: %w", err)
	}
	out := make(map[string]map[string]float64, len(counters))
	for dev, c := range counters {
		out[dev] = map[string]float64{
			"read_count":  float64(c.ReadCount),
			"write_count": float64(c.WriteCount),
			"read_bytes":  float64(c.ReadBytes),
			"write_bytes": float64(c.WriteBytes),
			"read_time":   float64(c.ReadTime),
			"write_time":  float64(c.WriteTime),
		}
	}
	return out, nil
}

func (h *HostSource) NetIO(ctx context.Context) (map[string]map[string]float64, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("get net io counters failed: %w", err)
	}
	out := make(map[string]map[string]float64, len(counters))
	for _, c := range counters {
		out[c.Name] = map[string]float64{
			"bytes_sent":   float64(c.BytesSent),
			"bytes_recv":   float64(c.BytesRecv),
			"packets_sent": float64(c.PacketsSent),
			"packets_recv": float64(c.PacketsRecv),
			"errin":        float64(c.Errin),
			"errout":       float64(c.Errout),
			"dropin":       float64(c.Dropin),
			"dropout":      float64(c.Dropout),
		}
	}
	return out, nil
}
