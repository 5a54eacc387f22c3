package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/errors"
)

const testYAML = `
server:
  addr: ":9090"
log:
  level: debug
realtime:
  heartbeat_interval: 10s
  dead_timeout: 25s
  presence_debounce: 1s
auth:
  secret: s3cret
offline:
  capacity: 50
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	c := New(WithDefaults(map[string]any{"a.b": "c"}))
	require.NoError(t, c.Load())
	assert.Equal(t, "c", c.GetString("a.b"))
	assert.Empty(t, c.ConfigFileUsed())
}

func TestLoadFile(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "linkup.yaml", testYAML)

	c := New(WithConfigFile(path))
	require.NoError(t, c.Load())
	assert.Equal(t, ":9090", c.GetString("server.addr"))
	assert.Equal(t, 10*time.Second, c.GetDuration("realtime.heartbeat_interval"))
	assert.Equal(t, 50, c.GetInt("offline.capacity"))
	assert.Equal(t, "s3cret", Get[string](c, "auth.secret"))
	assert.Equal(t, 0, Get[int](c, "auth.secret"))
}

func TestLoadMissingFile(t *testing.T) {
	c := New(WithConfigName("absent"), WithConfigPaths(t.TempDir()))
	err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestLoadSettings(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "linkup.yaml", testYAML)

	s, c, err := LoadSettings(path)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, ":9090", s.Server.Addr)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, 25*time.Second, s.Realtime.DeadTimeout)
	assert.Equal(t, time.Second, s.Realtime.PresenceDebounce)
	assert.Equal(t, 50, s.Offline.Capacity)
	// 未覆盖的使用默认值
	assert.Equal(t, 4000, s.Realtime.MaxContentLength)
	assert.Equal(t, "memory", s.Store.Driver)
	assert.False(t, s.Auth.AllowIDOnly)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "linkup.yaml", testYAML)
	t.Setenv("LINKUP_SERVER_ADDR", ":7070")

	s, _, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", s.Server.Addr)
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *Settings {
		s, _, err := LoadSettings("", func(c *Config) {
			c.defaults["auth.secret"] = "x"
		})
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"dead timeout not above heartbeat", func(s *Settings) { s.Realtime.DeadTimeout = s.Realtime.HeartbeatInterval }},
		{"zero debounce", func(s *Settings) { s.Realtime.PresenceDebounce = 0 }},
		{"sql driver without dsn", func(s *Settings) { s.Store.Driver = "postgres" }},
		{"unknown driver", func(s *Settings) { s.Store.Driver = "mongo" }},
		{"redis backend without redis", func(s *Settings) { s.Offline.Backend = "redis" }},
		{"no secret", func(s *Settings) { s.Auth.Secret = "" }},
		{"kafka without brokers", func(s *Settings) { s.Sinks.Kafka.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			require.NoError(t, s.Validate())
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigInvalid))
		})
	}
}

func TestIDOnlyWithoutSecretIsValid(t *testing.T) {
	s, _, err := LoadSettings("", func(c *Config) {
		c.defaults["auth.allow_id_only"] = true
	})
	require.NoError(t, err)
	assert.True(t, s.Auth.AllowIDOnly)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "linkup.yaml", testYAML)

	var changed atomic.Int32
	c := New(WithConfigFile(path), WithOnChange(func() { changed.Add(1) }))
	require.NoError(t, c.Load())
	require.NoError(t, c.Watch())
	require.NoError(t, c.Watch())

	writeTestConfig(t, dir, "linkup.yaml", "log:\n  level: warn\n")

	assert.Eventually(t, func() bool {
		return changed.Load() > 0 && c.GetString("log.level") == "warn"
	}, 3*time.Second, 20*time.Millisecond)

	c.StopWatch()
}

func TestWatchWithoutFile(t *testing.T) {
	c := New()
	require.NoError(t, c.Load())
	assert.Error(t, c.Watch())
}
