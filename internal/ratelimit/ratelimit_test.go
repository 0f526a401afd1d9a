package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_BurstThenThrottled(t *testing.T) {
	l := New(Config{Burst: 3, Rate: 1, Logger: zerolog.Nop()})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("client-1"))
	}
	assert.False(t, l.Allow("client-1"))
}

func TestAllow_IsPerClient(t *testing.T) {
	l := New(Config{Burst: 1, Rate: 1, Logger: zerolog.Nop()})
	defer l.Stop()

	require.True(t, l.Allow("client-1"))
	assert.False(t, l.Allow("client-1"))
	assert.True(t, l.Allow("client-2"))
}

func TestForget_ResetsBucketImmediately(t *testing.T) {
	l := New(Config{Burst: 1, Rate: 1, Logger: zerolog.Nop()})
	defer l.Stop()

	require.True(t, l.Allow("client-1"))
	require.False(t, l.Allow("client-1"))

	l.Forget("client-1")
	assert.True(t, l.Allow("client-1"))
}

func TestCleanup_RemovesStaleClients(t *testing.T) {
	l := New(Config{Burst: 1, Rate: 1, TTL: time.Millisecond, Logger: zerolog.Nop()})
	defer l.Stop()

	require.True(t, l.Allow("client-1"))
	time.Sleep(5 * time.Millisecond)
	l.cleanup()

	l.mu.Lock()
	_, exists := l.clients["client-1"]
	l.mu.Unlock()
	assert.False(t, exists)
}
