package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.Interval.Std())
	assert.Equal(t, 5, cfg.Supervisor.MaxRestarts)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "timedsend.yaml", `
store:
  driver: sqlite
  path: /var/lib/timedsend/schedules.db
driver:
  url: http://127.0.0.1:6001
  command: [node, server.js, --headless]
  send_timeout: 45s
dispatch:
  interval: 15
  strict_contacts: true
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/timedsend/schedules.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.Store.LockTimeout.Std())
	assert.Equal(t, []string{"node", "server.js", "--headless"}, cfg.Driver.Command)
	assert.Equal(t, 45*time.Second, cfg.Driver.SendTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Driver.StatusTimeout.Std())
	assert.Equal(t, 15*time.Second, cfg.Dispatch.Interval.Std())
	assert.True(t, cfg.Dispatch.StrictContacts)
	assert.True(t, cfg.Dispatch.WatchStore)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "timedsend.json", `{"api":{"addr":"127.0.0.1:8080"},"supervisor":{"max_restarts":3}}`)
	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Addr)
	assert.Equal(t, 3, cfg.Supervisor.MaxRestarts)
}

func TestLoad_RejectsUnknownFieldsAndBadValues(t *testing.T) {
	_, err := Load(writeFile(t, "a.yaml", "dispatch:\n  intervall: 5s\n"), true)
	assert.ErrorContains(t, err, "intervall")

	_, err = Load(writeFile(t, "b.yaml", "store:\n  driver: redis\n"), true)
	assert.ErrorContains(t, err, "Store.Driver")

	_, err = Load(writeFile(t, "c.yaml", "dispatch:\n  interval: soon\n"), true)
	assert.ErrorContains(t, err, "invalid duration")

	_, err = Load(writeFile(t, "d.json", `{"log":{"level":"info"}} {}`), true)
	assert.ErrorContains(t, err, "trailing data")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "timedsend.yaml", "driver:\n  url: http://127.0.0.1:6001\n")
	t.Setenv("TIMEDSEND_DRIVER_URL", "http://driver.internal:5001")
	t.Setenv("TIMEDSEND_DISPATCH_INTERVAL", "30s")
	t.Setenv("TIMEDSEND_DISPATCH_WATCH_STORE", "false")
	t.Setenv("TIMEDSEND_DRIVER_COMMAND", "node server.js")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "http://driver.internal:5001", cfg.Driver.URL)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Interval.Std())
	assert.False(t, cfg.Dispatch.WatchStore)
	assert.Equal(t, []string{"node", "server.js"}, cfg.Driver.Command)

	t.Setenv("TIMEDSEND_SUPERVISOR_MAX_RESTARTS", "many")
	_, err = Load(path, true)
	assert.ErrorContains(t, err, "TIMEDSEND_SUPERVISOR_MAX_RESTARTS")
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}

func TestLoad_EmptyDriverCommandClearsDefault(t *testing.T) {
	t.Setenv("TIMEDSEND_DRIVER_COMMAND", "")
	t.Setenv("TIMEDSEND_API_ADDR", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Empty(t, cfg.Driver.Command)
	assert.Equal(t, ":5000", cfg.API.Addr)
}
