package linkup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/auth"
	"github.com/tokmz/linkup/pkg/cache"
	"github.com/tokmz/linkup/pkg/offline"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/realtime"
	"github.com/tokmz/linkup/pkg/store"
)

const testSecret = "engine-test-secret"

type engineFixture struct {
	engine   *Engine
	srv      *httptest.Server
	verifier *auth.JWTVerifier
}

func newHub(t *testing.T, reg prometheus.Registerer) (*realtime.Hub, *auth.JWTVerifier) {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.CreateConversation(context.Background(), "c1", "general", []string{"u1", "u2"}))
	verifier := auth.NewJWTVerifier(testSecret)

	deps := realtime.Deps{
		Store:    st,
		Queue:    offline.NewMemory(offline.DefaultConfig()),
		Verifier: verifier,
		LastSeen: cache.NewPresenceStore(cache.NewMemory(time.Minute), 0),
	}
	if reg != nil {
		deps.Metrics = realtime.NewPrometheusMetrics(reg)
	}
	hub, err := realtime.NewHub(deps,
		realtime.WithConnectRate(100, 100),
		realtime.WithPresenceDebounce(10*time.Millisecond),
	)
	require.NoError(t, err)
	return hub, verifier
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub, verifier := newHub(t, reg)

	opts = append([]Option{WithMode(gin.TestMode), WithBanner(false), WithGatherer(reg)}, opts...)
	e := New(hub, opts...)
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return &engineFixture{engine: e, srv: srv, verifier: verifier}
}

func (f *engineFixture) get(t *testing.T, path string, data any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if data != nil {
		var body struct {
			Code string          `json:"code"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		if len(body.Data) > 0 {
			require.NoError(t, json.Unmarshal(body.Data, data))
		}
	}
	return resp.StatusCode
}

// dial 建立 WebSocket 连接并等待 connection-ack
func (f *engineFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	tok, err := f.verifier.Issue(userID, "", time.Hour)
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?userId=" + userID + "&token=" + tok
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(data, 0)
		require.NoError(t, err)
		if env.Type == protocol.KindConnectionAck {
			return ws
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newEngineFixture(t)

	var health HealthResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Connections)
}

func TestOpsEndpoints(t *testing.T) {
	f := newEngineFixture(t)

	var online OnlineResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/ops/online", &online))
	assert.Empty(t, online.UserIDs)
	assert.NotNil(t, online.UserIDs, "encoded as [] rather than null")

	f.dial(t, "u1")

	assert.Equal(t, http.StatusOK, f.get(t, "/ops/online", &online))
	assert.Equal(t, []string{"u1"}, online.UserIDs)

	var conns ConnectionsResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/ops/connections", &conns))
	assert.Equal(t, 1, conns.Count)

	var presence realtime.PresenceInfo
	assert.Equal(t, http.StatusOK, f.get(t, "/ops/users/u1/presence", &presence))
	assert.True(t, presence.Online)

	assert.Equal(t, http.StatusOK, f.get(t, "/ops/users/u9/presence", &presence))
	assert.False(t, presence.Online)
	assert.True(t, presence.LastSeen.IsZero())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newEngineFixture(t)
	f.dial(t, "u1")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "linkup_realtime_")
}

func TestOpsMiddlewaresScoped(t *testing.T) {
	var hits atomic.Int32
	f := newEngineFixture(t, WithOpsMiddlewares(func(c *Context) {
		hits.Add(1)
		c.Next()
	}))

	f.get(t, "/healthz", nil)
	assert.Zero(t, hits.Load())
	f.get(t, "/ops/connections", nil)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	hub, _ := newHub(t, nil)
	e := New(hub, WithMode(gin.TestMode), WithBanner(false))
	e.Group("/debug").GET("/panic", func(*Context) { panic("boom") })

	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL"`)
	_ = hub.Shutdown(context.Background())
}

func TestRunAndShutdown(t *testing.T) {
	hub, _ := newHub(t, nil)
	var before, after atomic.Bool
	e := New(hub,
		WithMode(gin.TestMode),
		WithBanner(false),
		WithAddr("127.0.0.1:0"),
		WithBeforeShutdown(func() { before.Store(true) }),
		WithAfterShutdown(func() { after.Store(true) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Addr() != "" }, 2*time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + e.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, before.Load())
	assert.True(t, after.Load())

	_, err = http.Get("http://" + e.Addr() + "/healthz")
	assert.Error(t, err, "listener closed")
}
