package series_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/node-manager/internal/series"
)

func TestParseTier(t *testing.T) {
	cases := []struct {
		in   string
		want series.Tier
	}{
		{"1s:3600", series.Tier{Resolution: 1, Retention: 3600}},
		{"1m:24h", series.Tier{Resolution: 60, Retention: 1440}},
		{"10m:168h", series.Tier{Resolution: 600, Retention: 1008}},
		{" 1h:720 ", series.Tier{Resolution: 3600, Retention: 720}},
	}
	for _, c := range cases {
		got, err := series.ParseTier(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "1s", "abc:10", "500ms:10", "1s:0", "1m:90s", "1s:forever"} {
		_, err := series.ParseTier(bad)
		assert.ErrorIs(t, err, series.ErrInvalidTiers, bad)
	}
}

func TestParseTiersDefaults(t *testing.T) {
	tiers, err := series.ParseTiers([]string{"1s:3600", "1m:1440", "10m:1008", "1h:720"})
	require.NoError(t, err)
	assert.Equal(t, series.DefaultTiers, tiers)
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, series.ValidateTiers(series.DefaultTiers))

	bad := map[string][]series.Tier{
		"empty":          nil,
		"not coarser":    {{Resolution: 60, Retention: 60}, {Resolution: 60, Retention: 120}},
		"not a multiple": {{Resolution: 10, Retention: 60}, {Resolution: 15, Retention: 100}},
		"too short":      {{Resolution: 1, Retention: 30}, {Resolution: 60, Retention: 10}},
		"span shrinks":   {{Resolution: 1, Retention: 3600}, {Resolution: 60, Retention: 10}},
		"zero retention": {{Resolution: 1, Retention: 0}},
	}
	for name, tiers := range bad {
		assert.ErrorIs(t, series.ValidateTiers(tiers), series.ErrInvalidTiers, name)
	}
}

func TestReduce(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	window := []*float64{f(60), nil, f(85), f(45)}

	min, err := series.Reduce(series.OpMin, window)
	require.NoError(t, err)
	assert.Equal(t, 45.0, min)

	max, err := series.Reduce(series.OpMax, window)
	require.NoError(t, err)
	assert.Equal(t, 85.0, max)

	avg, err := series.Reduce(series.OpAvg, window)
	require.NoError(t, err)
	assert.InDelta(t, 63.333, avg, 1e-3)

	_, err = series.Reduce(series.OpAvg, []*float64{nil, nil})
	assert.ErrorIs(t, err, series.ErrEmptyWindow)
	_, err = series.Reduce(series.OpMax, nil)
	assert.ErrorIs(t, err, series.ErrEmptyWindow)
}

func TestReduceAvgWithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 1, 50).Draw(rt, "values")
		window := make([]*float64, len(raw))
		for i := range raw {
			window[i] = &raw[i]
		}
		min, _ := series.Reduce(series.OpMin, window)
		max, _ := series.Reduce(series.OpMax, window)
		avg, err := series.Reduce(series.OpAvg, window)
		if err != nil {
			rt.Fatalf("avg: %v", err)
		}
		if avg < min-1e-6 || avg > max+1e-6 {
			rt.Fatalf("avg %v outside [%v, %v]", avg, min, max)
		}
	})
}

func TestParseOp(t *testing.T) {
	for in, want := range map[string]series.Op{"min": series.OpMin, "MAX": series.OpMax, "average": series.OpAvg} {
		got, err := series.ParseOp(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := series.ParseOp("median")
	assert.Error(t, err)
}
