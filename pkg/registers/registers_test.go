package registers_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/node-manager/internal/cluster"
	"github.com/node-manager/pkg/collector"
	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/registers"
)

type fakeCollector struct {
	name       string
	initErr    error
	collectErr error

	mu       sync.Mutex
	inits    int
	collects int
	closes   int
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeCollector) Collect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collects++
	return f.collectErr
}

func (f *fakeCollector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCollector) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.collects, f.closes
}

func TestSchedulerLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := registers.NewScheduler(time.Second, clock)
	c := &fakeCollector{name: "fake"}
	s.Register(c)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), registers.ErrAlreadyStarted)

	// 启动后立即采集一次
	assert.Eventually(t, func() bool { _, n, _ := c.counts(); return n == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { _, n, _ := c.counts(); return n == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	inits, _, closes := c.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, closes)
}

func TestSchedulerInitFailure(t *testing.T) {
	s := registers.NewScheduler(time.Second, clockwork.NewFakeClock())
	ok := &fakeCollector{name: "ok"}
	bad := &fakeCollector{name: "bad", initErr: errors.New("no permission")}
	s.Register(ok)
	s.Register(bad)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	_, collects, _ := ok.counts()
	assert.Zero(t, collects)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestCollectAllJoinsErrors(t *testing.T) {
	s := registers.NewScheduler(time.Second, nil)
	errA := errors.New("disk read failed")
	a := &fakeCollector{name: "a", collectErr: errA}
	b := &fakeCollector{name: "b"}
	s.Register(a)
	s.Register(b)

	err := s.CollectAll(context.Background())
	assert.ErrorIs(t, err, errA)
	_, collects, _ := b.counts()
	assert.Equal(t, 1, collects, "one failure does not skip the rest")
}

func TestRegisterCollectors(t *testing.T) {
	s := registers.NewScheduler(time.Second, nil)
	_, err := registers.RegisterCollectors(s, []registers.Module{
		{Enabled: false, Name: "off", NewFunc: func() registers.Collector { return &fakeCollector{name: "off"} }},
	})
	assert.ErrorIs(t, err, registers.ErrNoCollectors)

	got, err := registers.RegisterCollectors(s, []registers.Module{
		{Enabled: true, Name: "on", NewFunc: func() registers.Collector { return &fakeCollector{name: "on"} }},
		{Enabled: false, Name: "off", NewFunc: func() registers.Collector { return &fakeCollector{name: "off"} }},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "on", got[0].Name())
}

type growingMembership struct {
	mu      sync.Mutex
	members []string
}

func (g *growingMembership) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.members...)
}

func (g *growingMembership) Local() string { return "10.0.0.5:21000" }

func TestViewCollectorTracksPeak(t *testing.T) {
	m := &growingMembership{members: []string{"10.0.0.5:21000"}}
	view := cluster.NewView("infinity", m, "")
	vc := registers.NewViewCollector(view)
	assert.Equal(t, "cluster", vc.Name())

	m.mu.Lock()
	m.members = append(m.members, "10.0.0.6:21000", "10.0.0.7:21000")
	m.mu.Unlock()
	require.NoError(t, vc.Collect(context.Background()))

	m.mu.Lock()
	m.members = m.members[:1]
	m.mu.Unlock()
	assert.Equal(t, 3, view.PeakSize())
}

func TestInitCaptureWithHealthRegistry(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Manager.DataDir = t.TempDir()
	cfg.Health.Tiers = []string{"1s:60"}

	reg, err := registers.NewHealthRegistry(cfg, nil, collector.NewHostSource())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Manager.DataDir, "health", "127.0.0.1", "21000"), reg.Dir())

	s, err := registers.InitCapture(context.Background(), cfg, reg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestNewHealthRegistryRejectsBadTiers(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Health.Tiers = []string{"bogus"}
	_, err := registers.NewHealthRegistry(cfg, nil, collector.NewHostSource())
	assert.Error(t, err)
}
