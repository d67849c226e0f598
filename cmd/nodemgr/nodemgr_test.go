package nodemgr_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/node-manager/cmd/nodemgr"
	"github.com/node-manager/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := nodemgr.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigDump(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	out, err := execute(t, "config", "--log.path", logDir, "--engine.control_port", "22000", "--health.tiers", "1s:600,1m:60")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 22000, cfg.Engine.ControlPort)
	assert.Equal(t, []string{"1s:600", "1m:60"}, cfg.Health.Tiers)
	assert.Equal(t, logDir, cfg.Log.Path)
	assert.Contains(t, out, "graceful_timeout: 5s")
}

func TestConfigDumpRejectsInvalid(t *testing.T) {
	_, err := execute(t, "config", "--log.path", t.TempDir(), "--engine.control_ip", "bogus")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, nodemgr.Version+"\n", out)
}

func TestDBECommands(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/dbe/stop/") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Database engine 10.0.0.5:21001 is not running."}`))
			return
		}
		_, _ = w.Write([]byte(`{"node":"10.0.0.5:21001","operation":"start"}`))
	}))
	defer api.Close()
	addr := strings.TrimPrefix(api.URL, "http://")

	out, err := execute(t, "dbe", "start", "--node", "10.0.0.5:21001", "--manager", addr)
	require.NoError(t, err)
	assert.Contains(t, out, `"operation":"start"`)

	_, err = execute(t, "dbe", "stop", "--node", "10.0.0.5:21001", "--manager", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not running")

	_, err = execute(t, "dbe", "start", "--node", "10.0.0.5", "--manager", addr)
	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/dbe/start/10.0.0.5/21001/", "/dbe/stop/10.0.0.5/21001/"}, paths)
}
