package session

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/fanout"
	"github.com/chatcore/chatcore/internal/model"
	"github.com/chatcore/chatcore/internal/ratelimit"
	"github.com/chatcore/chatcore/internal/store"
)

func newTestSession(t *testing.T) (*Session, net.Conn, *fanout.Manager, *store.MemoryStore) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	fm := fanout.NewManager(8, zerolog.Nop())
	st := store.NewMemoryStore()
	st.AddMembership("user-1", "chat-1")

	limiter := ratelimit.New(ratelimit.Config{Burst: 20, Rate: 20, Logger: zerolog.Nop()})
	t.Cleanup(limiter.Stop)

	sess := New(server, "user-1", fm, st, limiter, zerolog.Nop())
	return sess, client, fm, st
}

func TestSession_InitialSubscribeAndStateTransitions(t *testing.T) {
	sess, client, fm, _ := newTestSession(t)
	go sess.Run()
	t.Cleanup(func() { _ = client.SetDeadline(time.Now().Add(time.Second)) })

	require.Eventually(t, func() bool {
		return sess.State() == StateActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fm.RoomSize("chat-1"))

	fm.Broadcast(model.ChatEvent{ChatID: "chat-1", MessageID: "m1", CreatedAt: time.Now().UTC()})

	msg, op, err := wsutil.ReadServerData(client)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, op)

	var frame outboundFrame
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, "event", frame.Type)
	require.NotNil(t, frame.Payload)
	assert.Equal(t, "m1", frame.Payload.MessageID)
}

func TestSession_UnsubscribeStopsForwarding(t *testing.T) {
	sess, client, fm, _ := newTestSession(t)
	go sess.Run()

	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	cmd, err := json.Marshal(inboundCommand{Type: "unsubscribe", ChatID: "chat-1"})
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(client, ws.OpText, cmd))

	require.Eventually(t, func() bool { return fm.RoomSize("chat-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestSession_SubscribeDeniedWithoutMembership(t *testing.T) {
	sess, client, fm, _ := newTestSession(t)
	go sess.Run()

	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	cmd, err := json.Marshal(inboundCommand{Type: "subscribe", ChatID: "chat-forbidden"})
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(client, ws.OpText, cmd))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fm.RoomSize("chat-forbidden"))
}

func TestSession_CloseFrameTerminatesSession(t *testing.T) {
	sess, client, fm, _ := newTestSession(t)
	go sess.Run()

	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	require.NoError(t, wsutil.WriteClientMessage(client, ws.OpClose, body))

	require.Eventually(t, func() bool { return sess.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fm.RoomSize("chat-1"))
}

func TestSession_RateLimitedCommandsAreDroppedNotFatal(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	fm := fanout.NewManager(8, zerolog.Nop())
	st := store.NewMemoryStore()
	st.AddMembership("user-1", "chat-1")
	st.AddMembership("user-1", "chat-2")

	limiter := ratelimit.New(ratelimit.Config{Burst: 1, Rate: 0.001, Logger: zerolog.Nop()})
	t.Cleanup(limiter.Stop)

	sess := New(server, "user-1", fm, st, limiter, zerolog.Nop())
	go sess.Run()

	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	// The initial Loading phase subscribes chat-1 directly, bypassing the
	// inbound limiter, so the bucket still has its single token here.
	cmd, err := json.Marshal(inboundCommand{Type: "subscribe", ChatID: "chat-2"})
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(client, ws.OpText, cmd))
	require.Eventually(t, func() bool { return fm.RoomSize("chat-2") == 1 }, time.Second, 5*time.Millisecond)

	// The bucket is now empty; a follow-up unsubscribe is throttled and
	// silently dropped rather than closing the session.
	cmd, err = json.Marshal(inboundCommand{Type: "unsubscribe", ChatID: "chat-2"})
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(client, ws.OpText, cmd))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateActive, sess.State())
	assert.Equal(t, 1, fm.RoomSize("chat-2"))
}

func TestSession_OverflowClosesWithLaggedStatus(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	// A room capacity of 4 means the 5th undrained broadcast evicts the
	// oldest buffered event rather than blocking the publisher.
	fm := fanout.NewManager(4, zerolog.Nop())
	st := store.NewMemoryStore()
	st.AddMembership("user-1", "chat-1")

	limiter := ratelimit.New(ratelimit.Config{Burst: 20, Rate: 20, Logger: zerolog.Nop()})
	t.Cleanup(limiter.Stop)

	sess := New(server, "user-1", fm, st, limiter, zerolog.Nop())
	go sess.Run()

	require.Eventually(t, func() bool { return sess.State() == StateActive }, time.Second, 5*time.Millisecond)

	// Stop draining the client side so every subsequent broadcast piles up
	// in the subscriber queue instead of being read off the socket.
	for i := 0; i < 10; i++ {
		fm.Broadcast(model.ChatEvent{
			ChatID:    "chat-1",
			MessageID: uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		})
	}

	require.Eventually(t, func() bool {
		return sess.State() == StateClosed || sess.State() == StateClosing
	}, time.Second, 5*time.Millisecond)
}
