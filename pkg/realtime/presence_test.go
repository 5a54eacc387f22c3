package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/protocol"
)

type staticRooms map[string][]string

func (s staticRooms) ListRoomsForUser(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

type presenceFixture struct {
	registry *Registry
	rooms    *RoomManager
	res      *fakeResolver
	pb       *PresenceBroadcaster

	mu     sync.Mutex
	events []eventsink.Event
}

func newPresenceFixture(t *testing.T, lister RoomLister, window time.Duration) *presenceFixture {
	t.Helper()
	f := &presenceFixture{res: newFakeResolver()}
	f.rooms = newTestRooms(f.res, 100, 64)
	f.registry = NewRegistry(func(tr Transition) { f.pb.OnTransition(tr) })
	f.pb = NewPresenceBroadcaster(f.registry, f.rooms, lister, window, func(e eventsink.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	}, nil, nil)
	t.Cleanup(f.pb.Close)
	return f
}

// connect 注册连接并加入房间
func (f *presenceFixture) connect(t *testing.T, connID, userID string, rooms ...string) *fakeSender {
	t.Helper()
	s := newFakeSender(connID, userID)
	f.res.add(s)
	for _, r := range rooms {
		require.NoError(t, f.rooms.Join(connID, r))
	}
	require.NoError(t, f.registry.Register(connID, userID, s))
	return s
}

func (f *presenceFixture) disconnect(connID string) {
	f.registry.Unregister(connID)
	f.rooms.LeaveAll(connID)
}

func (f *presenceFixture) sinkEvents() []eventsink.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventsink.Event(nil), f.events...)
}

// statuses s 收到的关于 userID 的状态变化
func statuses(t *testing.T, s *fakeSender, userID string) []protocol.StatusChanged {
	t.Helper()
	var out []protocol.StatusChanged
	for _, env := range s.envelopes(t) {
		if env.Type != protocol.KindUserStatusChanged {
			continue
		}
		var body protocol.StatusChanged
		require.NoError(t, env.Bind(&body))
		if body.UserID == userID {
			out = append(out, body)
		}
	}
	return out
}

func TestPresence_OnlineThenOffline(t *testing.T) {
	room := protocol.RoomID("c1")
	f := newPresenceFixture(t, staticRooms{"alice": {"c1"}}, 20*time.Millisecond)

	watcher := f.connect(t, "w1", "bob", room)
	f.connect(t, "a1", "alice", room)

	require.Eventually(t, func() bool { return len(statuses(t, watcher, "alice")) == 1 }, time.Second, 5*time.Millisecond)
	got := statuses(t, watcher, "alice")
	assert.Equal(t, "alice", got[0].UserID)
	assert.Equal(t, protocol.StatusOnline, got[0].Status)
	assert.True(t, f.pb.Announced("alice"))

	f.disconnect("a1")
	require.Eventually(t, func() bool { return len(statuses(t, watcher, "alice")) == 2 }, time.Second, 5*time.Millisecond)
	got = statuses(t, watcher, "alice")
	assert.Equal(t, protocol.StatusOffline, got[1].Status)
	assert.NotZero(t, got[1].LastSeen)
	assert.False(t, f.pb.Announced("alice"))

	// alice 的上线与下线，外加 bob 自己的上线
	assert.Eventually(t, func() bool { return len(f.sinkEvents()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestPresence_RapidReconnectCollapses(t *testing.T) {
	room := protocol.RoomID("c1")
	f := newPresenceFixture(t, staticRooms{"alice": {"c1"}}, 50*time.Millisecond)

	watcher := f.connect(t, "w1", "bob", room)
	f.connect(t, "a1", "alice", room)
	require.Eventually(t, func() bool { return len(statuses(t, watcher, "alice")) == 1 }, time.Second, 5*time.Millisecond)

	// 窗口内断开再重连：最终状态仍为在线，不广播
	f.disconnect("a1")
	f.connect(t, "a2", "alice", room)

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, statuses(t, watcher, "alice"), 1)
	assert.True(t, f.pb.Announced("alice"))
}

func TestPresence_AudienceDedupedAndExcludesSelf(t *testing.T) {
	r1, r2 := protocol.RoomID("c1"), protocol.RoomID("c2")
	f := newPresenceFixture(t, staticRooms{"alice": {"c1", "c2"}}, 10*time.Millisecond)

	// bob 与 alice 共享两个房间，只收到一次
	watcher := f.connect(t, "w1", "bob", r1, r2)
	outsider := f.connect(t, "o1", "carol", protocol.RoomID("c3"))
	first := f.connect(t, "a1", "alice", r1, r2)

	require.Eventually(t, func() bool { return len(statuses(t, watcher, "alice")) == 1 }, time.Second, 5*time.Millisecond)

	// alice 的第二个连接不改变在线状态
	second := f.connect(t, "a2", "alice", r1)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, statuses(t, watcher, "alice"), 1)
	assert.Empty(t, statuses(t, outsider, "alice"))
	assert.Empty(t, statuses(t, first, "alice"))
	assert.Empty(t, statuses(t, second, "alice"))
}

func TestPresence_CloseStopsTimers(t *testing.T) {
	room := protocol.RoomID("c1")
	f := newPresenceFixture(t, staticRooms{}, 30*time.Millisecond)

	watcher := f.connect(t, "w1", "bob", room)
	f.connect(t, "a1", "alice", room)
	f.pb.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, statuses(t, watcher, "alice"))
	assert.Empty(t, f.sinkEvents())
}
