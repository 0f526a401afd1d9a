// Package ratelimit throttles inbound WebSocket commands per connected
// session. It is the per-client counterpart to the connection-level
// admission control performed at upgrade time: once a session is
// established, every subscribe/unsubscribe frame it sends still has to
// pass a token bucket before the Session Handler acts on it.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config configures the per-client token bucket and the idle-entry
// cleanup sweep.
type Config struct {
	Burst  int           // max burst of inbound commands per client (default: 20)
	Rate   float64       // sustained commands/sec per client (default: 5.0)
	TTL    time.Duration // forget a client's bucket after this much idle time (default: 10 minutes)
	Logger zerolog.Logger
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter tracks one token bucket per client id (the session's user id,
// or any other stable identity the caller chooses to key by).
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*entry
	burst   int
	rate    float64
	ttl     time.Duration
	logger  zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// New builds a Limiter and starts its background cleanup sweep. Callers
// must call Stop when done to release the sweep goroutine.
func New(cfg Config) *Limiter {
	if cfg.Burst == 0 {
		cfg.Burst = 20
	}
	if cfg.Rate == 0 {
		cfg.Rate = 5.0
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}

	l := &Limiter{
		clients:     make(map[string]*entry),
		burst:       cfg.Burst,
		rate:        cfg.Rate,
		ttl:         cfg.TTL,
		logger:      cfg.Logger.With().Str("component", "ratelimit").Logger(),
		stopCleanup: make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(time.Minute)
	go l.cleanupLoop()

	return l
}

// Allow reports whether the client identified by clientID may process
// another inbound command right now. Rejected commands should be
// dropped with a warning, not treated as a reason to close the
// connection — a burst is often a transient spike, not abuse.
func (l *Limiter) Allow(clientID string) bool {
	lim := l.getLimiter(clientID)
	allowed := lim.Allow()
	if !allowed {
		l.logger.Debug().Str("client_id", clientID).Msg("inbound command rate limited")
	}
	return allowed
}

func (l *Limiter) getLimiter(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.clients[clientID]; ok {
		e.lastAccess = time.Now()
		return e.limiter
	}

	lim := rate.NewLimiter(rate.Limit(l.rate), l.burst)
	l.clients[clientID] = &entry{limiter: lim, lastAccess: time.Now()}
	return lim
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, e := range l.clients {
		if now.Sub(e.lastAccess) > l.ttl {
			delete(l.clients, id)
		}
	}
}

// Stop releases the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Forget drops a client's bucket immediately, e.g. when its session
// closes, instead of waiting for the TTL sweep.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}
