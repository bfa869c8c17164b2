// Package server hosts the HTTP control plane and the WebSocket
// endpoint for a set of registered apps.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pusherd/pusherd/internal/ingest"
	"github.com/pusherd/pusherd/internal/limits"
	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/platform"
	"github.com/pusherd/pusherd/internal/pusher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer. The protocol
	// advertises activity_timeout=120 so clients ping well within this.
	pongWait = 150 * time.Second

	// Send protocol-level pings with this period. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Per-session response queue depth.
	sendQueueSize = 1024
)

type Server struct {
	config *platform.Config
	logger zerolog.Logger
	apps   *pusher.AppRegistry

	listener net.Listener
	httpSrv  *http.Server

	// Live sessions, keyed by socket id. Used to force close the
	// stragglers at the end of the shutdown grace period.
	sessions    sync.Map // map[string]*session
	activeCount int64

	connectionRateLimiter *limits.ConnectionRateLimiter
	resourceGuard         *limits.ResourceGuard
	natsSource            *ingest.Source

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
}

func NewServer(config *platform.Config, apps *pusher.AppRegistry, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config: config,
		logger: logger,
		apps:   apps,
		ctx:    ctx,
		cancel: cancel,
	}

	s.resourceGuard = limits.NewResourceGuard(limits.ResourceGuardConfig{
		MaxConnections:   config.MaxConnections,
		MaxGoroutines:    config.MaxGoroutines,
		MemoryMaxPercent: config.MemoryMaxPercent,
		Logger:           logger,
	})

	if config.ConnRateLimitEnabled {
		s.connectionRateLimiter = limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
			IPBurst:     config.ConnRateLimitIPBurst,
			IPRate:      config.ConnRateLimitIPRate,
			GlobalBurst: config.ConnRateLimitGlobalBurst,
			GlobalRate:  config.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
		logger.Info().Msg("Connection rate limiting enabled")
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/apps/{app_id}/events", s.handleEventCreate)
	mux.HandleFunc("/apps/{app_id}/channels", s.handleChannelList)
	mux.HandleFunc("/apps/{app_id}/channels/{channel_name}", s.handleChannelStats)
	mux.HandleFunc("/app/{app_key}", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", s.config.Addr).
		Msg("Server listening")

	if s.config.NATSUrl != "" {
		source, err := ingest.NewSource(ingest.Config{
			URL:     s.config.NATSUrl,
			Subject: s.config.NATSSubject,
			Apps:    s.apps,
			Logger:  s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to start NATS ingest: %w", err)
		}
		s.natsSource = source
	}

	s.httpSrv = &http.Server{
		Handler:        s.routes(),
		ReadTimeout:    s.config.HTTPReadTimeout,
		WriteTimeout:   s.config.HTTPWriteTimeout,
		IdleTimeout:    s.config.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().
				Err(err).
				Msg("Server accept loop error")
		}
	}()

	return nil
}

func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")

	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		s.logger.Info().Msg("Closing listener (no new connections accepted)")
		s.listener.Close()
	}

	if s.natsSource != nil {
		s.logger.Info().Msg("Stopping NATS ingest (no new messages)")
		s.natsSource.Stop()
	}

	currentConns := atomic.LoadInt64(&s.activeCount)
	s.logger.Info().
		Int64("active_connections", currentConns).
		Dur("grace_period", s.config.ShutdownGracePeriod).
		Msg("Draining active connections")

	drainTimer := time.NewTimer(s.config.ShutdownGracePeriod)
	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()
	defer drainTimer.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining := atomic.LoadInt64(&s.activeCount)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
			}
			// Full teardown so registry entries cannot outlive their
			// sessions.
			s.sessions.Range(func(_, value any) bool {
				value.(*session).teardown()
				return true
			})
			break drain

		case <-checkTicker.C:
			remaining := atomic.LoadInt64(&s.activeCount)
			if remaining == 0 {
				s.logger.Info().Msg("All connections drained gracefully")
				break drain
			}
			s.logger.Info().
				Int64("remaining_connections", remaining).
				Msg("Waiting for connections to drain")
		}
	}

	s.cancel()

	if s.connectionRateLimiter != nil {
		s.connectionRateLimiter.Stop()
	}

	s.logger.Info().Msg("Waiting for all goroutines to finish")
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// Addr reports the bound listen address, useful when the configured
// address carried port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
