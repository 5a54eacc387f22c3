package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/config"
	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/offline"
	"github.com/tokmz/linkup/pkg/protocol"
)

const fixtures = `
conversations:
  - id: general
    title: General
    participants: [alice, bob]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadSettings(t *testing.T, yaml string) (*config.Settings, *config.Config) {
	t.Helper()
	s, cfg, err := config.LoadSettings(writeFile(t, "linkup.yaml", yaml))
	require.NoError(t, err)
	return s, cfg
}

func TestBuildMemoryStack(t *testing.T) {
	s, _ := loadSettings(t, `
auth:
  secret: wire-test
store:
  fixtures: `+writeFile(t, "fixtures.yaml", fixtures)+`
`)

	c, err := build(context.Background(), s, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.hub.Shutdown(context.Background())
		c.close(logger.Nop())
	})

	assert.Zero(t, c.hub.ConnectionCount())
	families, err := c.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Len(t, c.closers, 2, "tracing and sinks")
}

func TestBuildRejectsMissingFixtures(t *testing.T) {
	s, _ := loadSettings(t, `
auth:
  secret: wire-test
store:
  fixtures: /does/not/exist.yaml
`)
	_, err := build(context.Background(), s, logger.Nop())
	assert.Error(t, err)
}

func TestNewQueue(t *testing.T) {
	mem, err := newQueue(config.OfflineSettings{Backend: "memory", Capacity: 2}, nil)
	require.NoError(t, err)
	assert.IsType(t, &offline.Memory{}, mem)

	_, err = newQueue(config.OfflineSettings{Backend: "redis"}, nil)
	assert.Error(t, err)

	_, err = newQueue(config.OfflineSettings{Backend: "kafka"}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb, err := newRedis(config.RedisSettings{Mode: "standalone", Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	q, err := newQueue(config.OfflineSettings{Backend: "redis", Capacity: 2, KeyPrefix: "t:"}, rdb)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "alice", protocol.MustNew(protocol.KindNewMessage, "", nil)))
	n, err := q.Len(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRedisPingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := newRedis(config.RedisSettings{Mode: "standalone", Addr: addr})
	assert.Error(t, err)
}

func TestNewSinkDisabled(t *testing.T) {
	sink, err := newSink(config.SinkSettings{}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, eventsink.Nop{}, sink)
}

func TestReloadLogLevel(t *testing.T) {
	_, cfg := loadSettings(t, "auth:\n  secret: wire-test\n")
	log, err := logger.NewWithOptions(logger.WithLevel(logger.InfoLevel), logger.WithConsoleOutput())
	require.NoError(t, err)

	cfg.Set("log.level", "debug")
	reloadLogLevel(cfg, log)
	assert.Equal(t, logger.DebugLevel, log.Level())

	cfg.Set("log.level", "loud")
	reloadLogLevel(cfg, log)
	assert.Equal(t, logger.DebugLevel, log.Level(), "invalid level is ignored")
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkup.log")
	log, err := newLogger(config.LogSettings{Level: "warn", Format: "json", File: path, MaxSize: 1})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "dropped")

	_, err = newLogger(config.LogSettings{Level: "loud"})
	assert.Error(t, err)
}
