package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/node-manager/internal/series"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 采集间隔、档位与忽略列表
func (h *HealthConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Interval < time.Second || h.Interval > 3600*time.Second {
		return fmt.Errorf("health.interval must be between 1 and 3600 seconds, got %s", h.Interval)
	}
	if _, err := h.ParsedTiers(); err != nil {
		return err
	}
	if err := h.Thresholds.Validate(); err != nil {
		return err
	}
	return h.validateIgnoreLists()
}

// ParsedTiers 解析 resolution:retention 列表
func (h *HealthConfig) ParsedTiers() ([]series.Tier, error) {
	tiers, err := series.ParseTiers(h.Tiers)
	if err != nil {
		return nil, fmt.Errorf("health.tiers: %w", err)
	}
	return tiers, nil
}

// Validate low 必须不高于 high，否则告警无法解除
func (t *ThresholdsConfig) Validate() error {
	if !t.Enable {
		return nil
	}
	if err := valid.Struct(t); err != nil {
		return err
	}
	if t.MemoryLow > t.MemoryHigh {
		return fmt.Errorf("health.thresholds: memory_low %.1f > memory_high %.1f", t.MemoryLow, t.MemoryHigh)
	}
	if t.SwapLow > t.SwapHigh {
		return fmt.Errorf("health.thresholds: swap_low %.1f > swap_high %.1f", t.SwapLow, t.SwapHigh)
	}
	return nil
}

// validateIgnoreLists 忽略列表不能包含空字符串、重复项，网卡名不能含空白或路径分隔符
func (h *HealthConfig) validateIgnoreLists() error {
	seenDisk := map[string]bool{}
	for _, d := range h.IgnoreDisks {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("health.ignore_disks cannot contain empty string")
		}
		if seenDisk[d] {
			return fmt.Errorf("health.ignore_disks contains duplicate disk name: %s", d)
		}
		seenDisk[d] = true
	}

	seenIface := map[string]bool{}
	for _, iface := range h.IgnoreNetworks {
		if strings.TrimSpace(iface) == "" {
			return fmt.Errorf("health.ignore_networks cannot contain empty string")
		}
		// 通常linux 接口名如 eth0,enp0s3,lo,docker0..
		if strings.ContainsAny(iface, " \t\r\n") {
			return fmt.Errorf("health.ignore_networks: interface %q contains whitespace", iface)
		}
		if strings.ContainsAny(iface, "/\\") {
			return fmt.Errorf("health.ignore_networks: interface %q must not contain '/' or '\\\\'", iface)
		}
		if seenIface[iface] {
			return fmt.Errorf("health.ignore_networks duplicated entry: %q", iface)
		}
		seenIface[iface] = true
	}
	return nil
}
