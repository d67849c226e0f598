package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/node-manager/pkg/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Log.Path = t.TempDir()
	return cfg
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	tiers, err := cfg.Health.ParsedTiers()
	require.NoError(t, err)
	assert.Len(t, tiers, 4)
	assert.Equal(t, uint32(60), tiers[1].Resolution)
	assert.Equal(t, filepath.Join("data", "health", "127.0.0.1", "21000"), filepath.Clean(cfg.Manager.HealthDir()))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"bad tiers":            func(c *config.Config) { c.Health.Tiers = []string{"1m:60", "1s:10"} },
		"empty tiers":          func(c *config.Config) { c.Health.Tiers = nil },
		"interval":             func(c *config.Config) { c.Health.Interval = 500 * time.Millisecond },
		"memory thresholds":    func(c *config.Config) { c.Health.Thresholds.MemoryLow = 95 },
		"swap over 100":        func(c *config.Config) { c.Health.Thresholds.SwapHigh = 120 },
		"duplicate disk":       func(c *config.Config) { c.Health.IgnoreDisks = []string{"/dev/sda", "/dev/sda"} },
		"nic with slash":       func(c *config.Config) { c.Health.IgnoreNetworks = []string{"eth/0"} },
		"node id":              func(c *config.Config) { c.Manager.NodeID = "localhost" },
		"leader":               func(c *config.Config) { c.Manager.Leader = "nope" },
		"control ip":           func(c *config.Config) { c.Engine.ControlIP = "not-an-ip" },
		"control port":         func(c *config.Config) { c.Engine.ControlPort = 70000 },
		"executable":           func(c *config.Config) { c.Engine.Executable = "" },
		"server addr":          func(c *config.Config) { c.Server.Addr = "8080" },
		"log level":            func(c *config.Config) { c.Log.Level = "fatal" },
		"log format":           func(c *config.Config) { c.Log.Format = "xml" },
		"cluster seeds":        func(c *config.Config) { c.Cluster.Enable = true; c.Cluster.Seeds = []string{"seed"} },
		"cluster probe window": func(c *config.Config) { c.Cluster.Enable = true; c.Cluster.ProbeTimeout = 2 * time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDisabledSectionsSkipSemanticChecks(t *testing.T) {
	cfg := validConfig(t)
	cfg.Health.Thresholds.Enable = false
	cfg.Health.Thresholds.MemoryLow = 95
	cfg.Cluster.ProbeTimeout = 2 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestControlIPWildcard(t *testing.T) {
	for _, ip := range []string{"", "*", "10.0.0.5", "::1"} {
		cfg := validConfig(t)
		cfg.Engine.ControlIP = ip
		assert.NoError(t, cfg.Validate(), ip)
	}
}

func newCommand() *cobra.Command {
	def := config.NewDefaultConfig()
	cmd := &cobra.Command{Use: "test"}
	f := cmd.Flags()
	f.StringP("config", "c", "", "")
	f.String("server.addr", def.Server.Addr, "")
	f.Int("engine.control_port", def.Engine.ControlPort, "")
	f.Duration("engine.graceful_timeout", def.Engine.GracefulTimeout, "")
	f.StringSlice("health.tiers", def.Health.Tiers, "")
	return cmd
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "manager.yaml")
	yaml := `
manager:
  cluster_name: prod
  node_id: 10.0.0.5:21000
engine:
  executable: /usr/local/bin/dbengine
  graceful_timeout: 2s
health:
  tiers: ["1s:600", "1m:60"]
log:
  path: ` + filepath.Join(dir, "logs") + `
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))
	t.Setenv("NODE_MANAGER_ENGINE_CONTROL_PORT", "22000")

	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-c", file, "--server.addr", "127.0.0.1:9090"}))

	cfg, err := config.LoadConfigWithCli(cmd)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr, "flag wins")
	assert.Equal(t, 22000, cfg.Engine.ControlPort, "env wins over flag default")
	assert.Equal(t, 2*time.Second, cfg.Engine.GracefulTimeout, "file wins over flag default")
	assert.Equal(t, []string{"1s:600", "1m:60"}, cfg.Health.Tiers)
	assert.Equal(t, "prod", cfg.Manager.ClusterName)
	assert.Equal(t, "/usr/local/bin/dbengine", cfg.Engine.Executable)
	// 未出现的键保持默认值
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Manager.PollTimeout)
}

// 没有对应 flag 的键同样接受环境变量
func TestLoadConfigEnvWithoutFlag(t *testing.T) {
	t.Setenv("NODE_MANAGER_ENGINE_CONNECT_TIMEOUT", "3s")
	t.Setenv("NODE_MANAGER_HEALTH_THRESHOLDS_MEMORY_HIGH", "55")
	t.Setenv("NODE_MANAGER_HEALTH_THRESHOLDS_MEMORY_LOW", "40")
	t.Setenv("NODE_MANAGER_CLUSTER_PROBE_INTERVAL", "2s")
	t.Setenv("NODE_MANAGER_LOG_PATH", t.TempDir())

	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err := config.LoadConfigWithCli(cmd)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Engine.ConnectTimeout)
	assert.Equal(t, 55.0, cfg.Health.Thresholds.MemoryHigh)
	assert.Equal(t, 40.0, cfg.Health.Thresholds.MemoryLow)
	assert.Equal(t, 2*time.Second, cfg.Cluster.ProbeInterval)
	// 其余键仍是默认值
	assert.Equal(t, uint(20), cfg.Engine.ConnectRetries)
	assert.Equal(t, 50.0, cfg.Health.Thresholds.SwapHigh)
	assert.Equal(t, []string{"1s:3600", "1m:1440", "10m:1008", "1h:720"}, cfg.Health.Tiers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-c", filepath.Join(t.TempDir(), "absent.yaml")}))
	_, err := config.LoadConfigWithCli(cmd)
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("engine:\n  control_port: 0\n"), 0o644))
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-c", file}))
	_, err := config.LoadConfigWithCli(cmd)
	assert.Error(t, err)
}
