package series_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/node-manager/internal/series"
)

// 1699999200 能被 3600 整除，方便推算各级 bucket
var epoch = time.Unix(1699999200, 0)

var smallTiers = []series.Tier{
	{Resolution: 1, Retention: 60},
	{Resolution: 10, Retention: 60},
}

func values(t *testing.T, vs []*float64) []any {
	t.Helper()
	out := make([]any, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = nil
		} else {
			out[i] = *v
		}
	}
	return out
}

func TestFetchFinestTier(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("cpu.user", smallTiers, series.WithClock(clock))
	require.NoError(t, err)

	for i, v := range []float64{1, 2, 3} {
		if i > 0 {
			clock.Advance(time.Second)
		}
		require.NoError(t, s.Update(v))
	}

	w, vs, err := s.FetchSince(clock.Now().Add(-3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, w.Resolution)
	assert.Equal(t, epoch, w.From)
	assert.Equal(t, epoch.Add(3*time.Second), w.Until)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, values(t, vs))
}

func TestUpdateAbsent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("mem.used", smallTiers, series.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, s.Update(5))
	clock.Advance(time.Second)
	require.NoError(t, s.UpdateAbsent())
	clock.Advance(time.Second)
	require.NoError(t, s.Update(7))

	_, vs, err := s.FetchSince(clock.Now().Add(-3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, []any{5.0, nil, 7.0}, values(t, vs))

	_, err = series.Reduce(series.OpAvg, vs)
	require.NoError(t, err)
}

func TestConsolidationIsMeanOfFinerTier(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("cpu.load", smallTiers, series.WithClock(clock))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		require.NoError(t, s.Update(float64(i)))
		if i < 10 {
			clock.Advance(time.Second)
		}
	}

	// 100s 超出 1s 档位的 60s 覆盖范围，落到 10s 档位
	w, vs, err := s.FetchSince(clock.Now().Add(-100 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, w.Resolution)
	require.Len(t, vs, 10)
	require.NotNil(t, vs[9])
	assert.InDelta(t, 5.5, *vs[9], 1e-9)
	for _, v := range vs[:9] {
		assert.Nil(t, v)
	}
}

func TestConsolidationIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("swp.percent", smallTiers, series.WithClock(clock))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Update(float64(i*10)))
		clock.Advance(time.Second)
	}
	coarse := func() []any {
		_, vs, err := s.FetchSince(epoch.Add(-100 * time.Second))
		require.NoError(t, err)
		return values(t, vs)
	}
	before := coarse()

	// 同一个 10s bucket 内只写入缺失值，重复合并不改变结果
	require.NoError(t, s.UpdateAbsent())
	require.NoError(t, s.UpdateAbsent())
	after := coarse()
	assert.Equal(t, before, after)
	assert.Equal(t, 25.0, after[len(after)-1])
}

func TestConsolidationSkipsAbsent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("swp.used", smallTiers, series.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, s.Update(4))
	clock.Advance(time.Second)
	require.NoError(t, s.UpdateAbsent())
	clock.Advance(time.Second)
	require.NoError(t, s.Update(8))

	_, vs, err := s.FetchSince(clock.Now().Add(-100 * time.Second))
	require.NoError(t, err)
	last := vs[len(vs)-1]
	require.NotNil(t, last)
	assert.InDelta(t, 6.0, *last, 1e-9)
}

func TestFetchEdges(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("net.io.eth0.bytes_sent", smallTiers, series.WithClock(clock))
	require.NoError(t, err)
	now := clock.Now()

	t.Run("from after until", func(t *testing.T) {
		_, _, err := s.Fetch(now, now.Add(-time.Second))
		assert.ErrorIs(t, err, series.ErrInvalidRange)
	})

	t.Run("zero width window yields one point", func(t *testing.T) {
		_, vs, err := s.Fetch(now, now)
		require.NoError(t, err)
		assert.Len(t, vs, 1)
	})

	t.Run("from in the future", func(t *testing.T) {
		_, vs, err := s.Fetch(now.Add(time.Minute), now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, vs)
	})

	t.Run("until before retention", func(t *testing.T) {
		_, vs, err := s.Fetch(now.Add(-2*time.Hour), now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, vs)
	})

	t.Run("until clamped to now", func(t *testing.T) {
		w, vs, err := s.Fetch(now.Add(-5*time.Second), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, vs, 5)
		assert.Equal(t, now.Add(time.Second), w.Until)
	})
}

func TestFetchBoundedByRetention(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.New("dsk.space.sda1.used", smallTiers, series.WithClock(clock))
	require.NoError(t, err)
	now := clock.Now()

	rapid.Check(t, func(rt *rapid.T) {
		back := rapid.Int64Range(0, 2000).Draw(rt, "back")
		width := rapid.Int64Range(0, 2000).Draw(rt, "width")
		from := now.Add(-time.Duration(back) * time.Second)
		until := from.Add(time.Duration(width) * time.Second)

		w, vs, err := s.Fetch(from, until)
		if err != nil {
			rt.Fatalf("fetch: %v", err)
		}
		if len(vs) == 0 {
			return
		}
		var limit uint32
		for _, tier := range s.Tiers() {
			if time.Duration(tier.Resolution)*time.Second == w.Resolution {
				limit = tier.Retention
			}
		}
		if uint32(len(vs)) > limit {
			rt.Fatalf("%d points exceed retention %d", len(vs), limit)
		}
		if got := w.Until.Sub(w.From) / w.Resolution; int(got) != len(vs) {
			rt.Fatalf("window covers %d buckets, got %d points", got, len(vs))
		}
	})
}

func TestOpenPersistsAndKeepsLayout(t *testing.T) {
	dir := t.TempDir()
	path := series.PathFor(dir, "mem.used")
	assert.Equal(t, filepath.Join(dir, "mem", "used.dp"), path)

	clock := clockwork.NewFakeClockAt(epoch)
	s, err := series.Open(path, "mem.used", smallTiers, series.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, s.Update(42))
	clock.Advance(time.Second)
	require.NoError(t, s.Update(43))
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	// header 4+2+2+2*8，加上 120 个 16 字节槽位
	assert.Equal(t, int64(24+120*16), info.Size())

	reopened, err := series.Open(path, "mem.used", series.DefaultTiers, series.WithClock(clock))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, smallTiers, reopened.Tiers())
	// 以文件头的布局为准：最粗 tier 10s*60
	assert.Equal(t, 10*time.Minute, reopened.Retention())

	_, vs, err := reopened.FetchSince(clock.Now().Add(-2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, []any{42.0, 43.0}, values(t, vs))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dp")
	require.NoError(t, os.WriteFile(path, []byte("not a series"), 0o644))

	_, err := series.Open(path, "bad", smallTiers)
	assert.ErrorIs(t, err, series.ErrCorruptFile)
}

func TestNameFor(t *testing.T) {
	dir := "/var/lib/manager/health/10.0.0.5/21001"
	name, ok := series.NameFor(dir, series.PathFor(dir, "dsk.io.sda.read_bytes"))
	require.True(t, ok)
	assert.Equal(t, "dsk.io.sda.read_bytes", name)

	_, ok = series.NameFor(dir, filepath.Join(dir, "notes.txt"))
	assert.False(t, ok)
}
