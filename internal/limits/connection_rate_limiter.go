// Package limits provides admission control for the WebSocket tier:
// connection rate limiting and static resource guarding.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pusherd/pusherd/internal/monitoring"
)

// ConnectionRateLimiter rate limits WebSocket upgrade attempts at two
// levels: per client IP and system-wide. Both use token buckets
// (golang.org/x/time/rate) so legitimate reconnect bursts pass while
// sustained floods are rejected.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.RWMutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig holds connection rate limiting settings.
// Zero values fall back to defaults.
type ConnectionRateLimiterConfig struct {
	IPBurst int     // max burst connections per IP (default 10)
	IPRate  float64 // sustained connections/sec per IP (default 1.0)
	IPTTL   time.Duration

	GlobalBurst int     // max burst connections system-wide (default 300)
	GlobalRate  float64 // sustained connections/sec system-wide (default 50.0)

	Logger zerolog.Logger
}

// NewConnectionRateLimiter creates the limiter and starts its IP-entry
// cleanup loop.
func NewConnectionRateLimiter(config ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 300
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 50.0
	}

	limiter := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       config.IPBurst,
		ipRate:        config.IPRate,
		ipTTL:         config.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		logger:        config.Logger.With().Str("component", "connection_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	limiter.cleanupTicker = time.NewTicker(1 * time.Minute)
	go limiter.cleanupLoop()

	return limiter
}

// CheckConnectionAllowed reports whether a connection attempt from ip may
// proceed. Checks the global bucket first, then the per-IP bucket.
func (crl *ConnectionRateLimiter) CheckConnectionAllowed(ip string) bool {
	if !crl.globalLimiter.Allow() {
		crl.logger.Debug().
			Str("ip", ip).
			Msg("Connection rejected: global rate limit exceeded")
		monitoring.IncrementConnectionRateLimit("global")
		return false
	}

	if !crl.getIPLimiter(ip).Allow() {
		crl.logger.Debug().
			Str("ip", ip).
			Msg("Connection rejected: per-IP rate limit exceeded")
		monitoring.IncrementConnectionRateLimit("per_ip")
		return false
	}

	return true
}

func (crl *ConnectionRateLimiter) getIPLimiter(ip string) *rate.Limiter {
	crl.ipMu.RLock()
	entry, exists := crl.ipLimiters[ip]
	crl.ipMu.RUnlock()

	if exists {
		crl.ipMu.Lock()
		entry.lastAccess = time.Now()
		crl.ipMu.Unlock()
		return entry.limiter
	}

	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	// Double-check after acquiring the write lock.
	if entry, exists = crl.ipLimiters[ip]; exists {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(crl.ipRate), crl.ipBurst)
	crl.ipLimiters[ip] = &ipLimiterEntry{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (crl *ConnectionRateLimiter) cleanupLoop() {
	for {
		select {
		case <-crl.cleanupTicker.C:
			crl.cleanup()
		case <-crl.stopCleanup:
			crl.cleanupTicker.Stop()
			return
		}
	}
}

// cleanup drops IP entries idle longer than the TTL so the map cannot
// grow without bound.
func (crl *ConnectionRateLimiter) cleanup() {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	now := time.Now()
	removed := 0
	for ip, entry := range crl.ipLimiters {
		if now.Sub(entry.lastAccess) > crl.ipTTL {
			delete(crl.ipLimiters, ip)
			removed++
		}
	}
	if removed > 0 {
		crl.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(crl.ipLimiters)).
			Msg("Cleaned up stale IP rate limiters")
	}
}

// Stop terminates the cleanup goroutine.
func (crl *ConnectionRateLimiter) Stop() {
	close(crl.stopCleanup)
}
