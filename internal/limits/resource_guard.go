package limits

import (
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceGuard rejects new connections before the process degrades:
// a hard connection cap, a goroutine ceiling, and a host memory
// headroom check via gopsutil.
type ResourceGuard struct {
	maxConnections    int64
	activeConnections atomic.Int64

	maxGoroutines    int
	memoryMaxPercent float64

	logger zerolog.Logger
}

// ResourceGuardConfig holds resource guard settings. Zero values fall
// back to defaults.
type ResourceGuardConfig struct {
	MaxConnections   int64   // hard cap on concurrent connections (default 10000)
	MaxGoroutines    int     // reject above this goroutine count (default 100000)
	MemoryMaxPercent float64 // reject above this host memory usage (default 90.0)

	Logger zerolog.Logger
}

// NewResourceGuard creates the guard.
func NewResourceGuard(config ResourceGuardConfig) *ResourceGuard {
	if config.MaxConnections == 0 {
		config.MaxConnections = 10000
	}
	if config.MaxGoroutines == 0 {
		config.MaxGoroutines = 100000
	}
	if config.MemoryMaxPercent == 0 {
		config.MemoryMaxPercent = 90.0
	}
	return &ResourceGuard{
		maxConnections:   config.MaxConnections,
		maxGoroutines:    config.MaxGoroutines,
		memoryMaxPercent: config.MemoryMaxPercent,
		logger:           config.Logger.With().Str("component", "resource_guard").Logger(),
	}
}

// ShouldAcceptConnection reports whether a new connection may be
// admitted right now.
func (rg *ResourceGuard) ShouldAcceptConnection() bool {
	active := rg.activeConnections.Load()
	if active >= rg.maxConnections {
		rg.logger.Warn().
			Int64("active", active).
			Int64("max", rg.maxConnections).
			Msg("Connection rejected: connection cap reached")
		return false
	}

	if n := runtime.NumGoroutine(); n > rg.maxGoroutines {
		rg.logger.Warn().
			Int("goroutines", n).
			Int("max", rg.maxGoroutines).
			Msg("Connection rejected: goroutine ceiling reached")
		return false
	}

	// Memory check is best effort: admit when the probe itself fails.
	if vm, err := mem.VirtualMemory(); err == nil && vm.UsedPercent > rg.memoryMaxPercent {
		rg.logger.Warn().
			Float64("used_percent", vm.UsedPercent).
			Float64("max_percent", rg.memoryMaxPercent).
			Msg("Connection rejected: memory headroom exhausted")
		return false
	}

	return true
}

// ConnectionOpened records one admitted connection.
func (rg *ResourceGuard) ConnectionOpened() {
	rg.activeConnections.Add(1)
}

// ConnectionClosed records one closed connection.
func (rg *ResourceGuard) ConnectionClosed() {
	rg.activeConnections.Add(-1)
}

// ActiveConnections reports the current admitted connection count.
func (rg *ResourceGuard) ActiveConnections() int64 {
	return rg.activeConnections.Load()
}
