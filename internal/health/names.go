package health

import (
	"fmt"
	"slices"
	"strings"
)

// Category 指标类别
type Category string

const (
	CategoryCPU       Category = "cpu"
	CategoryMemory    Category = "mem"
	CategorySwap      Category = "swp"
	CategoryDiskSpace Category = "dsk.space"
	CategoryDiskIO    Category = "dsk.io"
	CategoryNetIO     Category = "net.io"
)

var (
	CPUModes        = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal", "guest", "guest_nice"}
	MemoryFields    = []string{"total", "available", "percent", "used", "free", "active", "inactive", "buffers", "cached"}
	SwapFields      = []string{"total", "used", "free", "percent", "sin", "sout"}
	DiskSpaceFields = []string{"total", "used", "free", "percent"}
	DiskIOFields    = []string{"read_count", "write_count", "read_bytes", "write_bytes", "read_time", "write_time"}
	NetIOFields     = []string{"bytes_sent", "bytes_recv", "packets_sent", "packets_recv", "errin", "errout", "dropin", "dropout"}
)

// 较长的前缀在前，保证 dsk.space 不会被误判
var categories = []Category{CategoryDiskSpace, CategoryDiskIO, CategoryNetIO, CategoryCPU, CategoryMemory, CategorySwap}

// PerDevice 是否按设备划分
func (c Category) PerDevice() bool {
	return c == CategoryDiskSpace || c == CategoryDiskIO || c == CategoryNetIO
}

// Fields 类别下的合法字段
func (c Category) Fields() []string {
	switch c {
	case CategoryCPU:
		return append([]string{"load"}, CPUModes...)
	case CategoryMemory:
		return MemoryFields
	case CategorySwap:
		return SwapFields
	case CategoryDiskSpace:
		return DiskSpaceFields
	case CategoryDiskIO:
		return DiskIOFields
	case CategoryNetIO:
		return NetIOFields
	}
	return nil
}

// Name 解析后的指标名，如 dsk.io.sda1.read_bytes -> {dsk.io, sda1, read_bytes}
type Name struct {
	Category Category
	Device   string // 非设备类别为空
	Field    string
}

func (n Name) String() string {
	if n.Device == "" {
		return string(n.Category) + "." + n.Field
	}
	return string(n.Category) + "." + n.Device + "." + n.Field
}

// ParseName 按类别前缀解析指标名，未知类别、缺少设备或字段不合法都会报错
func ParseName(s string) (Name, error) {
	for _, c := range categories {
		rest, ok := strings.CutPrefix(s, string(c)+".")
		if !ok {
			continue
		}
		n := Name{Category: c}
		if c.PerDevice() {
			i := strings.LastIndex(rest, ".")
			if i <= 0 {
				return Name{}, fmt.Errorf("%w: %q has no device", ErrUnknownMetric, s)
			}
			n.Device, n.Field = rest[:i], rest[i+1:]
		} else {
			n.Field = rest
		}
		if !slices.Contains(c.Fields(), n.Field) {
			return Name{}, fmt.Errorf("%w: %q has no field %q", ErrUnknownMetric, string(c), n.Field)
		}
		return n, nil
	}
	return Name{}, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// DeviceName 分区设备名：去掉 /dev/ 前缀，其余路径段用 - 连接
// /dev/mapper/vg-root -> mapper-vg-root
func DeviceName(device string) string {
	d := strings.TrimPrefix(device, "/dev/")
	parts := strings.FieldsFunc(d, func(r rune) bool { return r == '/' })
	return strings.Join(parts, "-")
}
