package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/eventsink"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/store"
)

// 离线用户的消息进入队列，下次连接时先于其他流量投递
func TestScenario_OfflineDeliveryBeforeLiveTraffic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1, _ := env.connect(t, "u1")
	u1.send(protocol.KindSendMessage, "s1", protocol.SendMessage{ConversationID: "c1", Content: "are you there?"})

	sent := u1.expect(protocol.KindMessageSent)
	assert.Equal(t, "s1", sent.ID)
	var ack protocol.MessageEvent
	require.NoError(t, sent.Bind(&ack))
	assert.Equal(t, "are you there?", ack.Message.Content)
	assert.Equal(t, "u1", ack.Message.SenderID)

	require.Eventually(t, func() bool {
		n, err := env.queue.Len(ctx, "u2")
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	u2, _, err := env.dialRaw(t, map[string][]string{"userId": {"u2"}, "token": {env.token(t, "u2")}}, nil)
	require.NoError(t, err)

	// 第一个报文是离线通知，其次才是 connection-ack
	first := u2.next()
	require.Equal(t, protocol.KindMessageNotification, first.Type)
	var note protocol.MessageEvent
	require.NoError(t, first.Bind(&note))
	assert.Equal(t, ack.Message.ID, note.Message.ID)

	var connAck protocol.ConnectionAck
	require.NoError(t, u2.expect(protocol.KindConnectionAck).Bind(&connAck))
	assert.Equal(t, 1, connAck.Queued)

	n, err := env.queue.Len(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, n, "queue is drained on connect")

	// 之后的实时消息正常到达，不再入队
	u1.send(protocol.KindSendMessage, "s2", protocol.SendMessage{ConversationID: "c1", Content: "welcome back"})
	u1.expect(protocol.KindMessageSent)
	var live protocol.MessageEvent
	require.NoError(t, u2.expect(protocol.KindNewMessage).Bind(&live))
	assert.Equal(t, "welcome back", live.Message.Content)

	n, err = env.queue.Len(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Eventually(t, func() bool {
		return len(env.sink.ofType(eventsink.EventMessageCreated)) == 2
	}, time.Second, 10*time.Millisecond)
}

// 同一用户的两个连接都在房间中，都能收到广播
func TestScenario_MultiDeviceBroadcast(t *testing.T) {
	env := newTestEnv(t)

	a, ackA := env.connect(t, "u1")
	b, ackB := env.connect(t, "u1")
	assert.NotEqual(t, ackA.ConnectionID, ackB.ConnectionID)
	assert.Equal(t, 2, env.hub.ConnectionCount())
	assert.Equal(t, []string{"u1"}, env.hub.OnlineUserIDs())

	for _, c := range []*testClient{a, b} {
		c.send(protocol.KindJoinRoom, "j", protocol.ConversationRef{ConversationID: "c1"})
		var joined protocol.RoomAck
		require.NoError(t, c.expect(protocol.KindConversationJoined).Bind(&joined))
		assert.Equal(t, protocol.RoomID("c1"), joined.RoomID)
	}

	u2, _ := env.connect(t, "u2")
	u2.send(protocol.KindSendMessage, "s1", protocol.SendMessage{ConversationID: "c1", Content: "hi both"})
	u2.expect(protocol.KindMessageSent)

	for _, c := range []*testClient{a, b} {
		var got protocol.MessageEvent
		require.NoError(t, c.expect(protocol.KindNewMessage).Bind(&got))
		assert.Equal(t, "hi both", got.Message.Content)
		assert.Equal(t, "u2", got.Message.SenderID)
	}

	// u1 在线，不入离线队列
	n, err := env.queue.Len(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	// 一个设备发送，另一个设备收到 new-message
	a.send(protocol.KindSendMessage, "s2", protocol.SendMessage{ConversationID: "c1", Content: "from a"})
	a.expect(protocol.KindMessageSent)
	b.expect(protocol.KindNewMessage)
	u2.expect(protocol.KindNewMessage)
}

// type 不是字符串的报文返回协议错误，会话保持 Active
func TestScenario_MalformedEnvelope(t *testing.T) {
	env := newTestEnv(t)
	c, ack := env.connect(t, "u1")

	c.sendRaw(`{"type": 123}`)
	body := c.expectError("INVALID_TYPE")
	assert.Equal(t, "protocol", body.Kind)

	c.sendRaw(`{"type": "ping", "data": [1, 2]}`)
	c.expectError("INVALID_DATA")

	s, ok := env.hub.pool.Get(ack.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, StateActive, s.State())

	c.send(protocol.KindPing, "p1", nil)
	assert.Equal(t, "p1", c.expect(protocol.KindPong).ID)
}

// mark-read 返回未读数量，回执只向房间广播一次
func TestScenario_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := env.store.CreateMessage(ctx, store.NewMessage{ConversationID: "c1", SenderID: "u1", Content: content})
		require.NoError(t, err)
	}

	u1, _ := env.connect(t, "u1")
	u2, _ := env.connect(t, "u2")

	u2.send(protocol.KindMarkRead, "r1", protocol.ConversationRef{ConversationID: "c1"})

	for _, c := range []*testClient{u1, u2} {
		got := c.expect(protocol.KindMessagesRead)
		assert.Equal(t, "r1", got.ID)
		var receipt protocol.ReadReceipt
		require.NoError(t, got.Bind(&receipt))
		assert.Equal(t, protocol.ReadReceipt{ConversationID: "c1", UserID: "u2", Count: 3}, receipt)
	}

	// 调用方是房间成员，只收到一次
	u2.send(protocol.KindPing, "p1", nil)
	u2.expect(protocol.KindPong)
	u1.quiet(50 * time.Millisecond)

	// 已读后再次标记为 0
	u2.send(protocol.KindMarkRead, "r2", protocol.ConversationRef{ConversationID: "c1"})
	var again protocol.ReadReceipt
	require.NoError(t, u2.expect(protocol.KindMessagesRead).Bind(&again))
	assert.Zero(t, again.Count)

	assert.Eventually(t, func() bool {
		return len(env.sink.ofType(eventsink.EventMessagesRead)) == 2
	}, time.Second, 10*time.Millisecond)
}

// 调用方不在房间中时，回执直接发给调用方
func TestScenario_MarkReadOutsideRoom(t *testing.T) {
	env := newTestEnv(t)
	u2, _ := env.connect(t, "u2")

	u2.send(protocol.KindLeaveRoom, "l1", protocol.ConversationRef{ConversationID: "c1"})
	u2.expect(protocol.KindConversationLeft)

	u2.send(protocol.KindMarkRead, "r1", protocol.ConversationRef{ConversationID: "c1"})
	got := u2.expect(protocol.KindMessagesRead)
	assert.Equal(t, "r1", got.ID)

	u2.send(protocol.KindPing, "p1", nil)
	u2.expect(protocol.KindPong)
}
