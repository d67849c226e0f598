package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/node-manager/internal/control"
	"github.com/node-manager/pkg/logger"
)

// ManagerConfig 所有引擎共用的配置，单个引擎的日志为 <LogDir>/engine-<host>-<port>.log
type ManagerConfig struct {
	Executable       string
	LogDir           string
	ControlIP        string
	ControlPort      int
	GracefulTimeout  time.Duration
	KillTimeout      time.Duration
	Connect          control.ConnectOptions
	OutputMaxSize    int
	OutputMaxBackups int
}

// Manager 按节点 id 维护 supervisor
type Manager struct {
	cfg     ManagerConfig
	options []Option
	opts    options

	mu      sync.Mutex
	engines map[string]*Supervisor
}

func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	return &Manager{
		cfg:     cfg,
		options: opts,
		opts:    buildOptions(opts),
		engines: make(map[string]*Supervisor),
	}
}

// NormalizeNodeID host 解析为 IP（取第一个结果），端口原样保留
func (m *Manager) NormalizeNodeID(ctx context.Context, nodeID string) (string, error) {
	host, port, err := net.SplitHostPort(nodeID)
	if err != nil {
		return "", fmt.Errorf("invalid node id %q: %w", nodeID, err)
	}
	if net.ParseIP(host) == nil {
		addrs, err := m.opts.resolver(ctx, host)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return "", fmt.Errorf("resolve %s: no addresses", host)
		}
		host = addrs[0]
	}
	return net.JoinHostPort(host, port), nil
}

func (m *Manager) logFile(nodeID string) string {
	host, port, _ := net.SplitHostPort(nodeID)
	host = strings.NewReplacer(":", "_", "%", "_").Replace(host)
	return filepath.Join(m.cfg.LogDir, fmt.Sprintf("engine-%s-%s.log", host, port))
}

func (m *Manager) supervisor(nodeID string, create bool) *Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.engines[nodeID]
	if !ok && create {
		s = NewSupervisor(Config{
			NodeID:           nodeID,
			Executable:       m.cfg.Executable,
			LogFile:          m.logFile(nodeID),
			ControlIP:        m.cfg.ControlIP,
			ControlPort:      m.cfg.ControlPort,
			GracefulTimeout:  m.cfg.GracefulTimeout,
			KillTimeout:      m.cfg.KillTimeout,
			Connect:          m.cfg.Connect,
			OutputMaxSize:    m.cfg.OutputMaxSize,
			OutputMaxBackups: m.cfg.OutputMaxBackups,
		}, m.options...)
		m.engines[nodeID] = s
	}
	return s
}

// StartEngine 启动（或重试连接）节点上的引擎
func (m *Manager) StartEngine(ctx context.Context, nodeID string) error {
	id, err := m.NormalizeNodeID(ctx, nodeID)
	if err != nil {
		return err
	}
	logger.Info("trying to start database engine", logger.Component("engine"), zap.String("node", id))
	s := m.supervisor(id, true)
	if err := s.Start(ctx); err != nil {
		if s.State() == Stopped {
			m.forget(id, s)
		}
		return err
	}
	return nil
}

// StopEngine 未知节点返回 ErrUnknownEngine；停止成功后移除记录
func (m *Manager) StopEngine(ctx context.Context, nodeID string) error {
	id, err := m.NormalizeNodeID(ctx, nodeID)
	if err != nil {
		return err
	}
	s := m.supervisor(id, false)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEngine, id)
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	m.forget(id, s)
	return nil
}

func (m *Manager) forget(id string, s *Supervisor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engines[id] == s {
		delete(m.engines, id)
	}
}

func (m *Manager) snapshot() []*Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Supervisor, 0, len(m.engines))
	for _, s := range m.engines {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID() < out[j].NodeID() })
	return out
}

// Engines 按节点 id 排序的状态快照
func (m *Manager) Engines() []Info {
	list := m.snapshot()
	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	return infos
}

// Process 依次轮询每个引擎的控制通道
func (m *Manager) Process(timeout time.Duration) error {
	var errs []error
	for _, s := range m.snapshot() {
		if err := s.Process(timeout); err != nil {
			logger.Warn("control channel error", logger.Component("engine"), zap.String("node", s.NodeID()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.NodeID(), err))
		}
	}
	return errors.Join(errs...)
}

// RequestStatus 向所有空闲的 Ready 引擎查询状态
func (m *Manager) RequestStatus() {
	for _, s := range m.snapshot() {
		err := s.RequestStatus()
		if err == nil || errors.Is(err, ErrNotReady) || errors.Is(err, control.ErrRequestOutstanding) {
			continue
		}
		logger.Warn("status request failed", logger.Component("engine"), zap.String("node", s.NodeID()), zap.Error(err))
	}
}

// StopAll 退出时停止全部引擎
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.snapshot() {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		m.forget(s.NodeID(), s)
	}
	return errors.Join(errs...)
}
