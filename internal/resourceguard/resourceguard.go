// Package resourceguard enforces static admission-control limits on the
// Session Handler: a hard connection cap, CPU/memory emergency brakes,
// and a goroutine ceiling, plus independent token buckets for consumer
// throughput and broadcast fan-out. It deliberately does not calculate
// capacity from measurements or auto-adjust limits — every threshold
// comes from configuration, so behavior stays predictable under load.
package resourceguard

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// Config is the static resource budget for one chat service instance.
type Config struct {
	MaxConnections      int
	MaxGoroutines       int
	MaxConsumeRate      int // messages/sec the bus consumer may apply to the store
	MaxBroadcastRate    int // fan-out broadcasts/sec
	CPURejectThreshold  float64 // percent; reject new connections above this
	CPUPauseThreshold   float64 // percent; pause bus consumption above this
	MemoryLimitBytes    int64
}

// Guard holds the live counters and rate limiters derived from Config.
type Guard struct {
	config Config
	logger zerolog.Logger

	consumeLimiter   *rate.Limiter
	broadcastLimiter *rate.Limiter
	goroutines       chan struct{}

	currentConns atomic.Int64
	currentCPU   atomic.Value // float64
	currentMem   atomic.Int64
}

// New builds a Guard from cfg. Zero-value rate fields disable that
// particular limiter (Allow always returns true).
func New(cfg Config, logger zerolog.Logger) *Guard {
	g := &Guard{
		config: cfg,
		logger: logger.With().Str("component", "resourceguard").Logger(),
	}
	if cfg.MaxConsumeRate > 0 {
		g.consumeLimiter = rate.NewLimiter(rate.Limit(cfg.MaxConsumeRate), cfg.MaxConsumeRate*2)
	}
	if cfg.MaxBroadcastRate > 0 {
		g.broadcastLimiter = rate.NewLimiter(rate.Limit(cfg.MaxBroadcastRate), cfg.MaxBroadcastRate*2)
	}
	if cfg.MaxGoroutines > 0 {
		g.goroutines = make(chan struct{}, cfg.MaxGoroutines)
	}
	g.currentCPU.Store(0.0)
	return g
}

// AddConnection / RemoveConnection track live session count for
// ShouldAcceptConnection's hard cap check.
func (g *Guard) AddConnection()    { g.currentConns.Add(1) }
func (g *Guard) RemoveConnection() { g.currentConns.Add(-1) }

// ShouldAcceptConnection runs the admission checks the Session Handler
// applies before upgrading a request to a WebSocket.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	conns := g.currentConns.Load()
	if g.config.MaxConnections > 0 && conns >= int64(g.config.MaxConnections) {
		return false, fmt.Sprintf("at max connections (%d)", g.config.MaxConnections)
	}

	cpuPct := g.currentCPU.Load().(float64)
	if g.config.CPURejectThreshold > 0 && cpuPct > g.config.CPURejectThreshold {
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", cpuPct, g.config.CPURejectThreshold)
	}

	if g.config.MemoryLimitBytes > 0 && g.currentMem.Load() > g.config.MemoryLimitBytes {
		return false, "memory limit exceeded"
	}

	if g.config.MaxGoroutines > 0 && runtime.NumGoroutine() > g.config.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d)", g.config.MaxGoroutines)
	}

	return true, ""
}

// ShouldPauseConsumption reports whether the bus consumer should pause
// pulling new events because CPU is critically high.
func (g *Guard) ShouldPauseConsumption() bool {
	if g.config.CPUPauseThreshold == 0 {
		return false
	}
	return g.currentCPU.Load().(float64) > g.config.CPUPauseThreshold
}

// AllowConsume rate-limits bus-to-store consumption.
func (g *Guard) AllowConsume() bool {
	if g.consumeLimiter == nil {
		return true
	}
	return g.consumeLimiter.Allow()
}

// AllowBroadcast rate-limits fan-out broadcasts.
func (g *Guard) AllowBroadcast() bool {
	if g.broadcastLimiter == nil {
		return true
	}
	return g.broadcastLimiter.Allow()
}

// AcquireGoroutine reserves a slot against the goroutine ceiling.
// Callers that get true must call ReleaseGoroutine when the goroutine exits.
func (g *Guard) AcquireGoroutine() bool {
	if g.goroutines == nil {
		return true
	}
	select {
	case g.goroutines <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReleaseGoroutine releases a slot acquired by AcquireGoroutine.
func (g *Guard) ReleaseGoroutine() {
	if g.goroutines == nil {
		return
	}
	<-g.goroutines
}

// UpdateResources refreshes the CPU/memory snapshot used by the
// admission checks. Call periodically from StartMonitoring, or directly
// in tests.
func (g *Guard) UpdateResources() {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		g.currentCPU.Store(pcts[0])
	} else if err != nil {
		g.logger.Debug().Err(err).Msg("cpu sample failed, keeping last value")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.currentMem.Store(int64(mem.Alloc))
}

// StartMonitoring runs UpdateResources on a ticker until stopCh closes.
func (g *Guard) StartMonitoring(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.UpdateResources()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stats reports the guard's current limits and resource readings as a map.
func (g *Guard) Stats() map[string]any {
	return map[string]any{
		"max_connections":     g.config.MaxConnections,
		"current_connections": g.currentConns.Load(),
		"cpu_percent":         g.currentCPU.Load().(float64),
		"memory_bytes":        g.currentMem.Load(),
		"goroutines_current":  runtime.NumGoroutine(),
		"goroutines_limit":    g.config.MaxGoroutines,
	}
}
