package collector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/node-manager/pkg/collector"
)

// 本机采集冒烟测试，只校验字段齐全
func TestHostSourceFields(t *testing.T) {
	ctx := context.Background()
	var src collector.Source = collector.NewHostSource()

	memFields, err := src.Memory(ctx)
	require.NoError(t, err)
	for _, f := range []string{"total", "available", "percent", "used", "free", "active", "inactive", "buffers", "cached"} {
		assert.Contains(t, memFields, f)
	}
	assert.Greater(t, memFields["total"], 0.0)

	times, err := src.CPUTimes(ctx)
	require.NoError(t, err)
	for _, f := range []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal", "guest", "guest_nice"} {
		assert.Contains(t, times, f)
	}

	load, err := src.CPULoad(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, load, 0.0)

	parts, err := src.Partitions(ctx)
	require.NoError(t, err)
	for _, p := range parts {
		assert.NotEmpty(t, p.Mountpoint)
	}
}
