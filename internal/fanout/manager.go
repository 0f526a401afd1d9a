// Package fanout is the Fan-out Manager: it keeps one Room per chat_id,
// each holding a bounded, lossy-oldest event queue per live subscriber, and
// a user_id -> set-of-chat_id index used to answer "what is this user
// currently subscribed to". A single RWMutex guards both indexes together
// so a subscribe/unsubscribe never observes one half-updated.
package fanout

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatcore/chatcore/internal/events"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
)

var _ events.Broadcaster = (*Manager)(nil)

const defaultRoomCapacity = 256

type Manager struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	userRooms map[string]map[string]int // chat_id -> active subscription count, per user
	roomCap   int
	logger    zerolog.Logger
}

func NewManager(roomCapacity int, logger zerolog.Logger) *Manager {
	if roomCapacity <= 0 {
		roomCapacity = defaultRoomCapacity
	}
	return &Manager{
		rooms:     make(map[string]*Room),
		userRooms: make(map[string]map[string]int),
		roomCap:   roomCapacity,
		logger:    logger,
	}
}

// Subscription is a live handle a session task owns for the duration of one
// chat subscription. The task should select on Notify and, when it fires,
// call Drain to pull every event buffered since the last drain.
type Subscription struct {
	ChatID string
	UserID string

	subID   string
	queue   *subscriberQueue
	manager *Manager
}

func (s *Subscription) Notify() <-chan struct{} { return s.queue.Notify() }

// Drain returns every event buffered since the last call, and the number of
// events silently dropped for overflow in between (0 if none). A non-zero
// drop count is the signal a session task uses to decide whether to close
// the socket with a "lagged" reason.
func (s *Subscription) Drain() ([]model.ChatEvent, uint64) { return s.queue.drain() }

func (s *Subscription) Close() { s.manager.unsubscribe(s) }

// SubscribeUserToChat registers a new live subscription and returns a handle
// to it. Calling it twice for the same (user, chat) pair is legal — e.g. a
// user connected from two devices — and each handle drains independently.
func (m *Manager) SubscribeUserToChat(userID, chatID string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[chatID]
	if !ok {
		room = newRoom(chatID)
		m.rooms[chatID] = room
	}

	q := newSubscriberQueue(m.roomCap)
	subID := uuid.NewString()
	room.add(subID, q)

	if m.userRooms[userID] == nil {
		m.userRooms[userID] = make(map[string]int)
	}
	m.userRooms[userID][chatID]++

	return &Subscription{
		ChatID:  chatID,
		UserID:  userID,
		subID:   subID,
		queue:   q,
		manager: m,
	}
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[s.ChatID]; ok {
		if room.remove(s.subID) {
			delete(m.rooms, s.ChatID)
		}
	}

	if chats, ok := m.userRooms[s.UserID]; ok {
		chats[s.ChatID]--
		if chats[s.ChatID] <= 0 {
			delete(chats, s.ChatID)
		}
		if len(chats) == 0 {
			delete(m.userRooms, s.UserID)
		}
	}
}

// UserChats returns the chat_ids the user currently has at least one live
// subscription against.
func (m *Manager) UserChats(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := m.userRooms[userID]
	out := make([]string, 0, len(chats))
	for chatID := range chats {
		out = append(out, chatID)
	}
	return out
}

// Broadcast delivers event to every live subscriber of event.ChatID. It
// satisfies events.Broadcaster. A chat with no live subscribers is a no-op:
// the event was already durably stored by the consumer before this call.
func (m *Manager) Broadcast(event model.ChatEvent) {
	metrics.BroadcastsTotal.Inc()
	m.mu.RLock()
	room, ok := m.rooms[event.ChatID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	room.broadcast(event)
}

// RoomSize reports the current live subscriber count for chatID, 0 if the
// room does not exist. Used by metrics and tests.
func (m *Manager) RoomSize(chatID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[chatID]
	if !ok {
		return 0
	}
	return room.size()
}
