// Package realtime provides the real-time presence and messaging core.
//
// # Features
//
//   - Connection registry with per-user presence and liveness sweep
//   - Conversation rooms with bounded membership and parallel fan-out
//   - Ordered activation: queued events are delivered before live traffic
//   - Debounced presence broadcasts to everyone sharing a room
//   - Middleware-based envelope routing (recovery, tracing, metrics, throttle)
//   - Duplicate send suppression for replayed client intents
//   - Async domain events to external sinks
//
// # Basic Usage
//
//	hub, err := realtime.NewHub(realtime.Deps{
//	    Store:    store.NewMemory(),
//	    Queue:    offline.NewMemory(offline.DefaultConfig()),
//	    Verifier: auth.NewJWTVerifier(secret),
//	    Logger:   log,
//	},
//	    realtime.WithMaxConnections(10000),
//	    realtime.WithHeartbeat(30*time.Second, 60*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//
//	go hub.Run(ctx)
//	http.HandleFunc("/ws", hub.ServeWS)
//
//	// graceful shutdown
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	hub.Shutdown(ctx)
//
// # Handshake
//
// Clients connect with GET /ws?userId=...&token=... (or Authorization: Bearer).
// Failures are reported on the upgraded socket so browsers can read the code:
//
//	4001  userId missing
//	4029  too many connection attempts for this user
//	4003  token rejected
//
// Afterwards the server may close with 4008 (no heartbeat within DeadTimeout),
// 1008 (too many malformed frames) or 1001 (shutdown). When the server is at
// capacity the handshake is refused with HTTP 503 before upgrading.
//
// # Custom Handlers
//
//	realtime.Handle(hub.Router(), "echo",
//	    func(ctx context.Context, s *realtime.Session, env *protocol.Envelope, req *EchoRequest) error {
//	        return s.Reply("echo", env.ID, req)
//	    })
//
// Handlers returning an *errors.Error are answered with an error envelope that
// echoes the inbound id; errors with a close code end the session.
package realtime
