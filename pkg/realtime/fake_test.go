package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/protocol"
)

// fakeSender 记录收到的帧
type fakeSender struct {
	id, user string

	mu        sync.Mutex
	frames    [][]byte
	full      bool
	closeCode int
}

func newFakeSender(id, user string) *fakeSender {
	return &fakeSender{id: id, user: user}
}

func (f *fakeSender) ID() string     { return f.id }
func (f *fakeSender) UserID() string { return f.user }

func (f *fakeSender) SendFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return ErrChannelFull
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) envelopes(t *testing.T) []*protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*protocol.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, &env)
	}
	return out
}

// fakeResolver connID -> fakeSender
type fakeResolver struct {
	mu      sync.RWMutex
	senders map[string]*fakeSender
}

func newFakeResolver(senders ...*fakeSender) *fakeResolver {
	r := &fakeResolver{senders: make(map[string]*fakeSender)}
	for _, s := range senders {
		r.senders[s.id] = s
	}
	return r
}

func (r *fakeResolver) add(s *fakeSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.id] = s
}

func (r *fakeResolver) Lookup(connID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[connID]
	if !ok {
		return nil, false
	}
	return s, true
}
