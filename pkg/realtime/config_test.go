package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"no connections", func(c *Config) { c.MaxConnections = 0 }},
		{"dead timeout not above heartbeat", func(c *Config) { c.DeadTimeout = c.HeartbeatInterval }},
		{"zero debounce", func(c *Config) { c.PresenceDebounce = 0 }},
		{"zero content length", func(c *Config) { c.MaxContentLength = 0 }},
		{"bad false positive", func(c *Config) { c.DedupeFalsePositive = 1 }},
		{"zero connect rate", WithConnectRate(0, 5)},
		{"zero action burst", WithActionRate(10, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithMaxConnections(5),
		WithHeartbeat(time.Second, 3*time.Second),
		WithPresenceDebounce(time.Second),
		WithMessageSizeLimit(1024),
	} {
		opt(cfg)
	}
	assert.Equal(t, 5, cfg.MaxConnections)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.DeadTimeout)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.NoError(t, cfg.Validate())
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://chat.example.com/ws", nil)

	same := newUpgrader(UpgraderConfig{})
	assert.True(t, same.CheckOrigin(r), "no Origin header")
	r.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, same.CheckOrigin(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, same.CheckOrigin(r))

	listed := newUpgrader(UpgraderConfig{AllowedOrigins: []string{"https://app.example.com"}})
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, listed.CheckOrigin(r))
	r.Header.Set("Origin", "https://chat.example.com")
	assert.False(t, listed.CheckOrigin(r))

	cfg := DefaultConfig()
	WithAllowAllOrigins()(cfg)
	assert.True(t, newUpgrader(cfg.Upgrader).CheckOrigin(r))
}
