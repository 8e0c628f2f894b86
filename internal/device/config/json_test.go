package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"relay_addr":   "http://relay.example:8080",
		"relay_ws_url": "ws://relay.example:8080/v1/websocket/provisioning",
		"data_dir":     "/var/lib/devlink",
		"device_name":  "office tablet",
		"poll_timeout": "45s",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "http://relay.example:8080", cfg.RelayAddr)
		assert.Equal(t, "ws://relay.example:8080/v1/websocket/provisioning", cfg.RelayWSURL)
		assert.Equal(t, "/var/lib/devlink", cfg.DataDir)
		assert.Equal(t, "office tablet", cfg.DeviceName)
		assert.Equal(t, 45*time.Second, cfg.PollTimeout)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			RelayAddr:   "http://defaults:1234",
			RelayWSURL:  "ws://defaults:1234/ws",
			DataDir:     ".",
			DeviceName:  "phone",
			PollTimeout: 30 * time.Second,
		}
		parseJson(cfg)

		assert.Equal(t, "http://defaults:1234", cfg.RelayAddr)
		assert.Equal(t, "ws://defaults:1234/ws", cfg.RelayWSURL)
		assert.Equal(t, ".", cfg.DataDir)
		assert.Equal(t, "phone", cfg.DeviceName)
		assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", cfg.RelayAddr)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.NotEmpty(t, cfg.RelayWSURL)
	assert.NotEmpty(t, cfg.DeviceName)
}
