// Package cluster 集群成员视图：节点列表、集群规模与 leader。
// leader 由外部给定，这里不做选举。
package cluster

import (
	"sort"
	"sync"
)

// Membership 成员来源
type Membership interface {
	// Members 当前存活成员的节点 id（host:port）
	Members() []string
	// Local 本节点 id
	Local() string
}

// View 在 Membership 之上记录峰值规模与 leader
type View struct {
	name       string
	membership Membership

	mu     sync.Mutex
	peak   int
	leader string
}

func NewView(clusterName string, m Membership, leader string) *View {
	v := &View{name: clusterName, membership: m, leader: leader}
	v.Observe()
	return v
}

func (v *View) Name() string { return v.name }

// Observe 刷新峰值规模，成员事件回调时调用
func (v *View) Observe() int {
	n := len(v.membership.Members())
	v.mu.Lock()
	defer v.mu.Unlock()
	if n > v.peak {
		v.peak = n
	}
	return n
}

// Nodes 排序后的成员列表
func (v *View) Nodes() []string {
	nodes := append([]string(nil), v.membership.Members()...)
	sort.Strings(nodes)
	return nodes
}

func (v *View) CurrentSize() int { return v.Observe() }

func (v *View) PeakSize() int {
	v.Observe()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peak
}

func (v *View) Leader() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leader
}

func (v *View) SetLeader(id string) {
	v.mu.Lock()
	v.leader = id
	v.mu.Unlock()
}

func (v *View) Local() string { return v.membership.Local() }

func (v *View) IsKnown(id string) bool {
	for _, n := range v.membership.Members() {
		if n == id {
			return true
		}
	}
	return false
}

func (v *View) IsLeader(id string) bool { return id != "" && v.Leader() == id }

func (v *View) IsLocal(id string) bool { return v.Local() == id }

// Static 单节点成员（未启用 gossip 时）
type Static struct {
	Node  string
	Peers []string
}

func (s Static) Members() []string { return append([]string{s.Node}, s.Peers...) }

func (s Static) Local() string { return s.Node }
