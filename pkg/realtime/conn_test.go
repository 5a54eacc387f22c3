package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnPair 返回服务端 Conn（写协程未启动）与客户端连接
func newConnPair(t *testing.T, cfg *Config) (*Conn, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-serverSide:
		return newConn(ws, cfg, NoopMetrics{}), client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestConn_HoldUntilRelease(t *testing.T) {
	conn, client := newConnPair(t, DefaultConfig())

	// 激活期间的实时消息被暂存
	require.NoError(t, conn.SendFrame([]byte("live-1")))
	require.NoError(t, conn.sendDirect([]byte("queued-1")))
	require.NoError(t, conn.SendFrame([]byte("live-2")))
	require.NoError(t, conn.sendDirect([]byte("ack")))

	conn.start()
	conn.release()
	require.NoError(t, conn.SendFrame([]byte("live-3")))

	for _, want := range []string{"queued-1", "ack", "live-1", "live-2", "live-3"} {
		assert.Equal(t, want, readText(t, client))
	}
	assert.Equal(t, uint64(5), conn.Seq())

	conn.Close(websocket.CloseNormalClosure, "")
}

func TestConn_FullChannelNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageQueueSize = 2
	conn, _ := newConnPair(t, cfg)
	conn.release()

	require.NoError(t, conn.SendFrame([]byte("a")))
	require.NoError(t, conn.SendFrame([]byte("b")))

	done := make(chan error, 1)
	go func() { done <- conn.SendFrame([]byte("c")) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelFull)
	case <-time.After(time.Second):
		t.Fatal("SendFrame blocked on a full channel")
	}
}

func TestConn_CloseSendsCodeAndIsIdempotent(t *testing.T) {
	conn, client := newConnPair(t, DefaultConfig())
	conn.start()
	conn.release()

	require.NoError(t, conn.SendFrame([]byte("last words")))
	conn.Close(4008, "dead connection")
	conn.Close(1000, "again")

	assert.Equal(t, "last words", readText(t, client))
	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4008, ce.Code)
	assert.Equal(t, "dead connection", ce.Text)

	assert.ErrorIs(t, conn.SendFrame([]byte("late")), ErrConnectionClosed)
}
