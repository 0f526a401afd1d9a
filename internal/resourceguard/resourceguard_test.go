package resourceguard

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldAcceptConnection_RejectsAtMaxConnections(t *testing.T) {
	g := New(Config{MaxConnections: 2}, zerolog.Nop())

	g.AddConnection()
	g.AddConnection()

	accept, reason := g.ShouldAcceptConnection()
	assert.False(t, accept)
	assert.Contains(t, reason, "max connections")
}

func TestShouldAcceptConnection_RejectsOnCPUOverload(t *testing.T) {
	g := New(Config{MaxConnections: 100, CPURejectThreshold: 50}, zerolog.Nop())
	g.currentCPU.Store(90.0)

	accept, reason := g.ShouldAcceptConnection()
	assert.False(t, accept)
	assert.Contains(t, reason, "cpu")
}

func TestShouldAcceptConnection_AcceptsUnderLimits(t *testing.T) {
	g := New(Config{MaxConnections: 100, CPURejectThreshold: 90}, zerolog.Nop())
	g.AddConnection()

	accept, reason := g.ShouldAcceptConnection()
	require.True(t, accept)
	assert.Empty(t, reason)
}

func TestGoroutineLimiter_AcquireRelease(t *testing.T) {
	g := New(Config{MaxGoroutines: 1}, zerolog.Nop())

	require.True(t, g.AcquireGoroutine())
	assert.False(t, g.AcquireGoroutine())

	g.ReleaseGoroutine()
	assert.True(t, g.AcquireGoroutine())
}

func TestShouldPauseConsumption_RespectsThreshold(t *testing.T) {
	g := New(Config{CPUPauseThreshold: 50}, zerolog.Nop())
	assert.False(t, g.ShouldPauseConsumption())

	g.currentCPU.Store(75.0)
	assert.True(t, g.ShouldPauseConsumption())
}

func TestAllowConsume_DisabledLimiterAlwaysAllows(t *testing.T) {
	g := New(Config{}, zerolog.Nop())
	assert.True(t, g.AllowConsume())
	assert.True(t, g.AllowBroadcast())
}
