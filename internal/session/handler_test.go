package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/fanout"
	"github.com/chatcore/chatcore/internal/resourceguard"
	"github.com/chatcore/chatcore/internal/store"
)

func TestServeHTTP_RejectsOverCapacityBeforeAuth(t *testing.T) {
	tokens := authtoken.NewManager("secret", time.Hour)
	fm := fanout.NewManager(8, zerolog.Nop())
	st := store.NewMemoryStore()
	guard := resourceguard.New(resourceguard.Config{MaxConnections: 1}, zerolog.Nop())
	guard.AddConnection()

	h := NewHandler(tokens, fm, st, nil, guard, zerolog.Nop())

	// No Authorization header at all: if admission control runs first,
	// the response is 503, not 401.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHTTP_RejectsUnauthenticated(t *testing.T) {
	tokens := authtoken.NewManager("secret", time.Hour)
	fm := fanout.NewManager(8, zerolog.Nop())
	st := store.NewMemoryStore()
	guard := resourceguard.New(resourceguard.Config{MaxConnections: 10}, zerolog.Nop())

	h := NewHandler(tokens, fm, st, nil, guard, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
