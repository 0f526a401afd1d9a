package fanout

import (
	"sync"

	"github.com/chatcore/chatcore/internal/model"
)

// Room holds every live subscriber for one chat_id. A Room is created on
// first subscribe and torn down once its last subscriber leaves.
type Room struct {
	chatID string

	mu          sync.RWMutex
	subscribers map[string]*subscriberQueue
}

func newRoom(chatID string) *Room {
	return &Room{
		chatID:      chatID,
		subscribers: make(map[string]*subscriberQueue),
	}
}

func (r *Room) broadcast(e model.ChatEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.subscribers {
		q.push(e)
	}
}

func (r *Room) add(subID string, q *subscriberQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[subID] = q
}

// remove deletes subID from the room and reports whether the room is now
// empty, so the caller can decide whether to drop the Room entirely.
func (r *Room) remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.subscribers[subID]; ok {
		q.close()
		delete(r.subscribers, subID)
	}
	return len(r.subscribers) == 0
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
