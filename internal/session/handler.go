package session

import (
	"net/http"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/fanout"
	"github.com/chatcore/chatcore/internal/logging"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/ratelimit"
	"github.com/chatcore/chatcore/internal/resourceguard"
	"github.com/chatcore/chatcore/internal/store"
)

// Handler upgrades HTTP connections to WebSocket sessions. Admission
// control runs first so an overloaded instance never spends a socket on
// a connection it can't serve; authentication then runs before the
// upgrade so a rejected credential never ties one up either.
type Handler struct {
	tokens  *authtoken.Manager
	fanout  *fanout.Manager
	store   store.Store
	limiter *ratelimit.Limiter
	guard   *resourceguard.Guard
	logger  zerolog.Logger
}

// NewHandler builds a Handler. limiter and guard may be nil to disable
// per-client rate limiting and admission control, respectively.
func NewHandler(tokens *authtoken.Manager, fm *fanout.Manager, st store.Store, limiter *ratelimit.Limiter, guard *resourceguard.Guard, logger zerolog.Logger) *Handler {
	return &Handler{tokens: tokens, fanout: fm, store: st, limiter: limiter, guard: guard, logger: logger}
}

// ServeHTTP runs admission control, then verifies the bearer credential,
// then upgrades on success.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ConnectionsTotal.Inc()

	if h.guard != nil {
		if accept, reason := h.guard.ShouldAcceptConnection(); !accept {
			h.logger.Warn().Str("reason", reason).Msg("websocket upgrade rejected: over capacity")
			metrics.ConnectionsRejected.WithLabelValues("over_capacity").Inc()
			http.Error(w, "server over capacity", http.StatusServiceUnavailable)
			return
		}
	}

	userID, err := h.tokens.VerifyRequest(r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade rejected: unauthenticated")
		metrics.ConnectionsRejected.WithLabelValues("unauthenticated").Inc()
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		return
	}

	if h.guard != nil {
		h.guard.AddConnection()
	}
	metrics.ConnectionsActive.Inc()

	sess := New(conn, userID, h.fanout, h.store, h.limiter, h.logger)
	go func() {
		defer logging.RecoverPanic(h.logger, "session handler", map[string]any{"user_id": userID})
		defer metrics.ConnectionsActive.Dec()
		defer func() {
			if h.guard != nil {
				h.guard.RemoveConnection()
			}
		}()
		sess.Run()
	}()
}
