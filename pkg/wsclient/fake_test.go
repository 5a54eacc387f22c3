package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/protocol"
)

// fakeTransport 内存连接，frames 注入入站帧，fail 注入读错误
type fakeTransport struct {
	frames   chan []byte
	fail     chan error
	closed   chan struct{}
	once     sync.Once
	autoPong bool

	mu      sync.Mutex
	written []*protocol.Envelope
	control []int // 写出的关闭码
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.frames:
		return websocket.TextMessage, data, nil
	case err := <-f.fail:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed transport")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage {
		code := websocket.CloseNoStatusReceived
		if len(data) >= 2 {
			code = int(data[0])<<8 | int(data[1])
		}
		f.control = append(f.control, code)
		return nil
	}
	env, err := protocol.Decode(data, 0)
	if err != nil {
		return err
	}
	f.written = append(f.written, env)
	if f.autoPong && env.Type == protocol.KindPing {
		f.push(protocol.MustNew(protocol.KindPong, env.ID, protocol.Pong{}))
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) push(env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		panic(err)
	}
	f.frames <- data
}

func (f *fakeTransport) ack(queued int) {
	f.push(protocol.MustNew(protocol.KindConnectionAck, "", protocol.ConnectionAck{
		ConnectionID: "conn-1",
		UserID:       "u1",
		Queued:       queued,
	}))
}

func (f *fakeTransport) closeWith(code int) {
	f.fail <- &websocket.CloseError{Code: code}
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, env := range f.written {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeTransport) closeCodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.control...)
}

// fakeDialer 每次拨号调用 next，记录拨号次数与请求
type fakeDialer struct {
	dials  atomic.Int32
	next   func(n int) (Transport, error)
	mu     sync.Mutex
	urls   []string
	tokens []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	n := int(d.dials.Add(1))
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.tokens = append(d.tokens, header.Get("Authorization"))
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.next(n)
}

// transportsDialer 每次拨号返回新的 fakeTransport 并通过通道交给测试
func transportsDialer() (*fakeDialer, chan *fakeTransport) {
	ch := make(chan *fakeTransport, 16)
	d := &fakeDialer{next: func(int) (Transport, error) {
		t := newFakeTransport()
		ch <- t
		return t, nil
	}}
	return d, ch
}

func failingDialer() *fakeDialer {
	return &fakeDialer{next: func(int) (Transport, error) {
		return nil, errors.New("connection refused")
	}}
}

// stateRecorder 记录状态变化
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 256)}
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
	select {
	case r.ch <- to:
	default:
	}
}

func (r *stateRecorder) wait(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (r *stateRecorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func nextTransport(t *testing.T, ch chan *fakeTransport) *fakeTransport {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// newTestController 快速重试、长心跳的测试控制器
func newTestController(t *testing.T, d Dialer, opts ...Option) (*Controller, *stateRecorder) {
	t.Helper()
	rec := newStateRecorder()
	opts = append([]Option{
		WithDialer(d),
		WithToken("secret"),
		WithRetry(3, 5*time.Millisecond, 20*time.Millisecond, 2),
		WithHeartbeat(time.Hour, time.Hour),
		WithOnStateChange(rec.record),
	}, opts...)
	c, err := New("ws://example.test/ws", "u1", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}
