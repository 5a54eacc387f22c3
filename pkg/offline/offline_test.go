package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/protocol"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newBackends(t *testing.T, cfg Config) map[string]struct {
	q   Queue
	clk *clock
} {
	t.Helper()

	memClock := &clock{t: time.Unix(1_700_000_000, 0)}
	mem := NewMemory(cfg)
	mem.now = memClock.now

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	redisClock := &clock{t: time.Unix(1_700_000_000, 0)}
	rq := NewRedis(client, cfg)
	rq.now = redisClock.now

	return map[string]struct {
		q   Queue
		clk *clock
	}{
		"memory": {q: mem, clk: memClock},
		"redis":  {q: rq, clk: redisClock},
	}
}

func envelope(n int) *protocol.Envelope {
	return protocol.MustNew(protocol.KindMessageNotification, fmt.Sprintf("e%d", n), protocol.MessageEvent{
		Message: protocol.Message{ID: fmt.Sprintf("m%d", n), Content: fmt.Sprintf("hello %d", n)},
	})
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Envelope.ID)
	}
	return out
}

func TestDrainFIFO(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t, Config{Capacity: 10}) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 3; i++ {
				require.NoError(t, b.q.Enqueue(ctx, "u1", envelope(i)))
			}

			n, err := b.q.Len(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			entries, err := b.q.Drain(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"e1", "e2", "e3"}, ids(entries))
			assert.Equal(t, "u1", entries[0].UserID)
			assert.Equal(t, protocol.KindMessageNotification, entries[0].Envelope.Type)

			again, err := b.q.Drain(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, again)
		})
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t, Config{Capacity: 3}) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 5; i++ {
				require.NoError(t, b.q.Enqueue(ctx, "u1", envelope(i)))
			}

			entries, err := b.q.Drain(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"e3", "e4", "e5"}, ids(entries))
		})
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t, Config{Capacity: 10}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.q.Enqueue(ctx, "u1", envelope(1)))
			require.NoError(t, b.q.Enqueue(ctx, "u2", envelope(2)))

			entries, err := b.q.Drain(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"e1"}, ids(entries))

			n, err := b.q.Len(ctx, "u2")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestPurgeStale(t *testing.T) {
	ctx := context.Background()
	for name, b := range newBackends(t, Config{Capacity: 10}) {
		t.Run(name, func(t *testing.T) {
			start := b.clk.t
			require.NoError(t, b.q.Enqueue(ctx, "old", envelope(1)))
			require.NoError(t, b.q.Enqueue(ctx, "mixed", envelope(2)))

			b.clk.t = start.Add(48 * time.Hour)
			require.NoError(t, b.q.Enqueue(ctx, "mixed", envelope(3)))

			removed, err := b.q.PurgeStale(ctx, start.Add(50*time.Hour), 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			n, err := b.q.Len(ctx, "old")
			require.NoError(t, err)
			assert.Zero(t, n)

			entries, err := b.q.Drain(ctx, "mixed")
			require.NoError(t, err)
			assert.Equal(t, []string{"e3"}, ids(entries))
		})
	}
}

func TestMemoryDropsEmptiedUsers(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(Config{})
	clk := &clock{t: time.Unix(0, 0)}
	q.now = clk.now

	require.NoError(t, q.Enqueue(ctx, "u1", envelope(1)))
	assert.Equal(t, 1, q.Users())

	_, err := q.PurgeStale(ctx, time.Unix(0, 0).Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, q.Users())
}

func TestRedisKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedis(client, Config{KeyPrefix: "test:q:"})
	require.NoError(t, q.Enqueue(ctx, "u1", envelope(1)))
	assert.True(t, mr.Exists("test:q:u1"))

	_, err := q.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:q:u1"))
}

// interleaveHook 在第一次 LRANGE 返回后执行 fn，模拟清理期间用户上线并收到新通知
type interleaveHook struct {
	once sync.Once
	fn   func()
}

func (h *interleaveHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *interleaveHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "lrange" {
			h.once.Do(h.fn)
		}
		return err
	}
}

func (h *interleaveHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisPurgeKeepsEntriesWrittenDuringPurge(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	start := time.Unix(1_700_000_000, 0)
	writerClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = writerClient.Close() })
	writerClock := &clock{t: start}
	writer := NewRedis(writerClient, Config{Capacity: 10})
	writer.now = writerClock.now

	for i := range 3 {
		require.NoError(t, writer.Enqueue(ctx, "u1", envelope(i)))
	}

	purgerClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = purgerClient.Close() })
	now := start.Add(time.Hour)
	purgerClient.AddHook(&interleaveHook{fn: func() {
		drained, err := writer.Drain(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, drained, 3)

		writerClock.t = now
		require.NoError(t, writer.Enqueue(ctx, "u1", envelope(99)))
	}})
	purger := NewRedis(purgerClient, Config{Capacity: 10})

	removed, err := purger.PurgeStale(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed, "stale entries were delivered by the drain, not purged")

	entries, err := writer.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e99"}, ids(entries))
}
