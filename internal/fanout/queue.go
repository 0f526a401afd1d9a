package fanout

import (
	"sync"

	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
)

// subscriberQueue is a per-subscriber bounded event buffer. Producers never
// block on a slow subscriber: once capacity is exceeded the oldest buffered
// event is evicted to make room for the new one. A capacity-1 notify
// channel wakes the subscriber's drain loop without replaying a full event
// per wakeup.
type subscriberQueue struct {
	mu       sync.Mutex
	events   []model.ChatEvent
	capacity int
	notify   chan struct{}
	dropped  uint64
	closed   bool
}

func newSubscriberQueue(capacity int) *subscriberQueue {
	return &subscriberQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends e, evicting the oldest buffered event if the queue is full.
func (q *subscriberQueue) push(e model.ChatEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.events) >= q.capacity {
		q.events = q.events[1:]
		q.dropped++
		metrics.SubscriberDropsTotal.Inc()
	}
	q.events = append(q.events, e)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every currently buffered event, along with
// the number of events dropped since the last drain.
func (q *subscriberQueue) drain() ([]model.ChatEvent, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 && q.dropped == 0 {
		return nil, 0
	}
	out := q.events
	dropped := q.dropped
	q.events = nil
	q.dropped = 0
	return out, dropped
}

// Notify returns the channel a subscriber should select on to learn new
// events are available to drain.
func (q *subscriberQueue) Notify() <-chan struct{} {
	return q.notify
}

func (q *subscriberQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.events = nil
}
