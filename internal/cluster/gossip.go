package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/node-manager/pkg/logger"
)

// GossipConfig memberlist 参数
type GossipConfig struct {
	BindAddr       string
	BindPort       int
	Seeds          []string
	GossipInterval time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	LeaveTimeout   time.Duration
}

// Gossip 基于 memberlist 的 Membership。
// 节点元数据携带集群名，不同集群的节点不计入成员。
// 成员表由事件回调维护：memberlist 持有 nodeLock 时回调，回调路径上不能再调用 list 的方法。
type Gossip struct {
	cluster string
	local   string
	cfg     GossipConfig
	list    *memberlist.Memberlist
	// Create 期间本节点的 join 事件早于 list 赋值
	ready atomic.Bool

	mu       sync.RWMutex
	members  map[string]string // name -> 集群名
	onChange func()
}

// NewGossip 创建并加入集群；种子节点全部不可达时只记录警告
func NewGossip(clusterName, nodeID string, cfg GossipConfig) (*Gossip, error) {
	g := &Gossip{cluster: clusterName, local: nodeID, cfg: cfg, members: make(map[string]string)}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	mlConfig.Delegate = g
	mlConfig.Events = &gossipEvents{g: g}
	mlConfig.Logger = zap.NewStdLog(logger.GetGlobalLogger().With(logger.Component("memberlist")))

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.list = list
	g.ready.Store(true)

	if len(cfg.Seeds) > 0 {
		n, err := list.Join(cfg.Seeds)
		if err != nil {
			logger.Warn("failed to join some seed nodes", logger.Component("cluster"),
				zap.Strings("seeds", cfg.Seeds), zap.Int("joined", n), zap.Error(err))
		}
	}
	return g, nil
}

// OnChange 成员变化回调，在 memberlist 的 goroutine 中执行。
// 回调里可以调用 Members 和 Local。
func (g *Gossip) OnChange(f func()) {
	g.mu.Lock()
	g.onChange = f
	g.mu.Unlock()
}

// Members 同集群的存活成员
func (g *Gossip) Members() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.members))
	for name, cluster := range g.members {
		if cluster == g.cluster {
			out = append(out, name)
		}
	}
	return out
}

func (g *Gossip) Local() string { return g.local }

// Addr gossip 实际监听地址
func (g *Gossip) Addr() string { return g.list.LocalNode().Address() }

func (g *Gossip) Close() error {
	timeout := g.cfg.LeaveTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := g.list.Leave(timeout); err != nil {
		logger.Warn("leave cluster", logger.Component("cluster"), zap.Error(err))
	}
	return g.list.Shutdown()
}

func (g *Gossip) NodeMeta(limit int) []byte {
	meta := []byte(g.cluster)
	if len(meta) > limit {
		return meta[:limit]
	}
	return meta
}

func (g *Gossip) NotifyMsg([]byte) {}

func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (g *Gossip) LocalState(join bool) []byte { return nil }

func (g *Gossip) MergeRemoteState(buf []byte, join bool) {}

type gossipEvents struct {
	g *Gossip
}

func (e *gossipEvents) NotifyJoin(node *memberlist.Node) {
	logger.Info("node joined", logger.Component("cluster"),
		zap.String("node", node.Name), zap.String("addr", node.Address()), zap.String("cluster", string(node.Meta)))
	e.set(node)
}

func (e *gossipEvents) NotifyLeave(node *memberlist.Node) {
	logger.Info("node left", logger.Component("cluster"), zap.String("node", node.Name))
	e.g.mu.Lock()
	delete(e.g.members, node.Name)
	e.g.mu.Unlock()
	e.changed()
}

func (e *gossipEvents) NotifyUpdate(node *memberlist.Node) {
	logger.Debug("node updated", logger.Component("cluster"), zap.String("node", node.Name))
	e.set(node)
}

func (e *gossipEvents) set(node *memberlist.Node) {
	e.g.mu.Lock()
	e.g.members[node.Name] = string(node.Meta)
	e.g.mu.Unlock()
	e.changed()
}

func (e *gossipEvents) changed() {
	if !e.g.ready.Load() {
		return
	}
	e.g.mu.RLock()
	f := e.g.onChange
	e.g.mu.RUnlock()
	if f != nil {
		f()
	}
}
