package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		config *Config
	}{
		{"nil config", nil},
		{"console", &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{"file", &Config{File: filepath.Join(dir, "app.log")}},
		{"rotate", &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, l)
			_ = l.Sync()
		})
	}
}

func TestDevelopmentAndProductionLevels(t *testing.T) {
	dev, err := NewDevelopment()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, dev.Level())

	prod, err := NewProduction()
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, prod.Level())
}

func TestSetLevelAppliesToChildren(t *testing.T) {
	l, err := NewWithOptions(WithLevel(InfoLevel))
	require.NoError(t, err)

	child := l.With(zap.String("component", "hub"))
	l.SetLevel(ErrorLevel)

	assert.Equal(t, ErrorLevel, l.Level())
	assert.Equal(t, ErrorLevel, child.Level())
}

type recordHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *recordHook) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	h.fields = append(h.fields, fields)
	return nil
}

func TestContextFields(t *testing.T) {
	hook := &recordHook{}
	l, err := NewWithOptions(
		WithLevel(DebugLevel),
		WithFileOutput(filepath.Join(t.TempDir(), "ctx.log")),
		WithHook(hook),
	)
	require.NoError(t, err)

	ctx := WithConnID(WithUserID(context.Background(), "u-1"), "c-1")
	l.InfoContext(ctx, "registered", zap.Int("rooms", 2))

	require.Len(t, hook.entries, 1)
	keys := map[string]bool{}
	for _, f := range hook.fields[0] {
		keys[f.Key] = true
	}
	assert.True(t, keys["user_id"])
	assert.True(t, keys["conn_id"])
	assert.True(t, keys["rooms"])
	assert.False(t, keys["trace_id"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewWithOptions(WithFileOutput(path), WithFormat(JSONFormat))
	require.NoError(t, err)

	l.Info("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("ignored")
	assert.NoError(t, l.Sync())
}
