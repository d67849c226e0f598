package config

import (
	"fmt"
	"net"
	"path/filepath"
)

// Validate 管理节点配置
func (m *ManagerConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(m.NodeID); err != nil {
		return fmt.Errorf("manager.node_id must be host:port, got %s: %w", m.NodeID, err)
	}
	return nil
}

// HealthDir 健康数据目录 <data_dir>/health/<host>/<port>
func (m *ManagerConfig) HealthDir() string {
	host, port, _ := net.SplitHostPort(m.NodeID)
	return filepath.Join(m.DataDir, "health", host, port)
}

// Validate 引擎配置
func (e *EngineConfig) Validate() error {
	if err := valid.Struct(e); err != nil {
		return err
	}
	switch e.ControlIP {
	case "", "*":
	default:
		if net.ParseIP(e.ControlIP) == nil {
			return fmt.Errorf("engine.control_ip must be empty, '*' or an IP address, got %q", e.ControlIP)
		}
	}
	if e.KillTimeout > e.GracefulTimeout*10 {
		return fmt.Errorf("engine.kill_timeout %s is unreasonably longer than graceful_timeout %s", e.KillTimeout, e.GracefulTimeout)
	}
	return nil
}

// Validate gossip 配置，未启用时不校验
func (c *ClusterConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if err := valid.Struct(c); err != nil {
		return err
	}
	if c.ProbeTimeout > c.ProbeInterval {
		return fmt.Errorf("cluster.probe_timeout %s must not exceed probe_interval %s", c.ProbeTimeout, c.ProbeInterval)
	}
	return nil
}
