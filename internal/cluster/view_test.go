package cluster_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/node-manager/internal/cluster"
)

type fakeMembership struct {
	mu      sync.Mutex
	local   string
	members []string
}

func (f *fakeMembership) Members() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members...)
}

func (f *fakeMembership) Local() string { return f.local }

func (f *fakeMembership) set(members ...string) {
	f.mu.Lock()
	f.members = members
	f.mu.Unlock()
}

func TestViewTracksPeak(t *testing.T) {
	m := &fakeMembership{local: "10.0.0.5:21000", members: []string{"10.0.0.5:21000"}}
	v := cluster.NewView("infinity", m, "10.0.0.6:21000")

	m.set("10.0.0.7:21000", "10.0.0.5:21000", "10.0.0.6:21000")
	assert.Equal(t, 3, v.CurrentSize())
	assert.Equal(t, []string{"10.0.0.5:21000", "10.0.0.6:21000", "10.0.0.7:21000"}, v.Nodes())

	m.set("10.0.0.5:21000")
	assert.Equal(t, 1, v.CurrentSize())
	assert.Equal(t, 3, v.PeakSize())
}

func TestViewNodeDetails(t *testing.T) {
	m := &fakeMembership{local: "10.0.0.5:21000", members: []string{"10.0.0.5:21000", "10.0.0.6:21000"}}
	v := cluster.NewView("infinity", m, "")

	assert.Equal(t, "infinity", v.Name())
	assert.True(t, v.IsKnown("10.0.0.6:21000"))
	assert.False(t, v.IsKnown("10.0.0.9:21000"))
	assert.True(t, v.IsLocal("10.0.0.5:21000"))
	assert.False(t, v.IsLeader(""), "no leader known")

	v.SetLeader("10.0.0.6:21000")
	assert.True(t, v.IsLeader("10.0.0.6:21000"))
	assert.False(t, v.IsLeader("10.0.0.5:21000"))
}

func TestStaticMembership(t *testing.T) {
	v := cluster.NewView("infinity", cluster.Static{Node: "10.0.0.5:21000"}, "")
	assert.Equal(t, []string{"10.0.0.5:21000"}, v.Nodes())
	assert.Equal(t, 1, v.PeakSize())
	assert.Equal(t, "10.0.0.5:21000", v.Local())
}

func TestGossipJoin(t *testing.T) {
	cfg := cluster.GossipConfig{BindAddr: "127.0.0.1", LeaveTimeout: 100 * time.Millisecond}

	a, err := cluster.NewGossip("infinity", "10.0.0.5:21000", cfg)
	require.NoError(t, err)
	defer a.Close()

	va := cluster.NewView("infinity", a, "")
	a.OnChange(func() { va.Observe() })

	cfgB := cfg
	cfgB.Seeds = []string{a.Addr()}
	b, err := cluster.NewGossip("infinity", "10.0.0.6:21000", cfgB)
	require.NoError(t, err)
	defer b.Close()

	cfgC := cfg
	cfgC.Seeds = []string{a.Addr()}
	c, err := cluster.NewGossip("other", "10.0.0.7:21000", cfgC)
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool { return va.CurrentSize() == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.5:21000", "10.0.0.6:21000"}, va.Nodes())
	assert.Equal(t, "10.0.0.5:21000", a.Local())
	assert.Equal(t, 2, va.PeakSize())
}

func TestGossipCallbackReadsMembership(t *testing.T) {
	cfg := cluster.GossipConfig{BindAddr: "127.0.0.1", LeaveTimeout: 200 * time.Millisecond}

	a, err := cluster.NewGossip("infinity", "10.0.0.5:21000", cfg)
	require.NoError(t, err)
	defer a.Close()

	va := cluster.NewView("infinity", a, "")
	seen := make(chan []string, 16)
	a.OnChange(func() {
		// 在 memberlist 的事件回调中读取成员，不能阻塞
		nodes := va.Nodes()
		va.IsLocal(a.Local())
		select {
		case seen <- nodes:
		default:
		}
	})

	cfgB := cfg
	cfgB.Seeds = []string{a.Addr()}
	b, err := cluster.NewGossip("infinity", "10.0.0.6:21000", cfgB)
	require.NoError(t, err)

	select {
	case nodes := <-seen:
		assert.Contains(t, nodes, "10.0.0.6:21000")
	case <-time.After(5 * time.Second):
		t.Fatal("membership callback did not complete")
	}

	require.NoError(t, b.Close())
	assert.Eventually(t, func() bool { return va.CurrentSize() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.5:21000"}, va.Nodes())
	assert.Equal(t, 2, va.PeakSize())
}
