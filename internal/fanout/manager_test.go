package fanout

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/model"
)

func testEvent(chatID, messageID string) model.ChatEvent {
	return model.ChatEvent{ChatID: chatID, MessageID: messageID, CreatedAt: time.Now().UTC()}
}

func TestSubscribeAndBroadcast(t *testing.T) {
	m := NewManager(8, zerolog.Nop())
	sub := m.SubscribeUserToChat("user-1", "chat-1")
	defer sub.Close()

	m.Broadcast(testEvent("chat-1", "m1"))

	select {
	case <-sub.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notify")
	}

	events, dropped := sub.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), dropped)
	assert.Equal(t, "m1", events[0].MessageID)
}

// A broadcast to a chat with no subscribers reaches nobody and must not
// panic or block.
func TestBroadcast_NoSubscribersIsNoop(t *testing.T) {
	m := NewManager(8, zerolog.Nop())
	assert.NotPanics(t, func() {
		m.Broadcast(testEvent("chat-none", "m1"))
	})
}

// P5: within one subscriber's queue, events arrive in publish order.
func TestBroadcast_PreservesOrderPerSubscriber(t *testing.T) {
	m := NewManager(64, zerolog.Nop())
	sub := m.SubscribeUserToChat("user-1", "chat-1")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		m.Broadcast(testEvent("chat-1", string(rune('a'+i))))
	}

	var got []model.ChatEvent
	for len(got) < 10 {
		<-sub.Notify()
		batch, _ := sub.Drain()
		got = append(got, batch...)
	}
	for i, e := range got {
		assert.Equal(t, string(rune('a'+i)), e.MessageID)
	}
}

// Overflow scenario: a slow subscriber loses the oldest events once its
// buffer is full, never the producer blocking.
func TestQueueOverflow_DropsOldestNotNewest(t *testing.T) {
	m := NewManager(4, zerolog.Nop())
	sub := m.SubscribeUserToChat("user-1", "chat-1")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		m.Broadcast(testEvent("chat-1", string(rune('0'+i))))
	}

	events, dropped := sub.Drain()
	require.Len(t, events, 4)
	assert.Equal(t, uint64(6), dropped)
	// the 4 survivors are the 4 most recent: "6","7","8","9"
	assert.Equal(t, []string{"6", "7", "8", "9"}, []string{
		events[0].MessageID, events[1].MessageID, events[2].MessageID, events[3].MessageID,
	})
}

func TestUnsubscribe_RemovesRoomWhenEmpty(t *testing.T) {
	m := NewManager(8, zerolog.Nop())
	sub := m.SubscribeUserToChat("user-1", "chat-1")
	assert.Equal(t, 1, m.RoomSize("chat-1"))

	sub.Close()
	assert.Equal(t, 0, m.RoomSize("chat-1"))
	assert.Empty(t, m.UserChats("user-1"))
}

func TestMultipleSubscriptionsSameUserChat(t *testing.T) {
	m := NewManager(8, zerolog.Nop())
	sub1 := m.SubscribeUserToChat("user-1", "chat-1")
	sub2 := m.SubscribeUserToChat("user-1", "chat-1")
	assert.Equal(t, 2, m.RoomSize("chat-1"))

	sub1.Close()
	assert.Equal(t, 1, m.RoomSize("chat-1"))
	assert.Contains(t, m.UserChats("user-1"), "chat-1")

	sub2.Close()
	assert.Equal(t, 0, m.RoomSize("chat-1"))
	assert.Empty(t, m.UserChats("user-1"))
}

func TestUserChats_TracksMultipleChats(t *testing.T) {
	m := NewManager(8, zerolog.Nop())
	a := m.SubscribeUserToChat("user-1", "chat-a")
	b := m.SubscribeUserToChat("user-1", "chat-b")
	defer a.Close()
	defer b.Close()

	assert.ElementsMatch(t, []string{"chat-a", "chat-b"}, m.UserChats("user-1"))
}
