package server

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/protocol"
)

// WebSocket upgrade handler. Admission control and the signature guard
// run before the upgrade so rejections are still plain HTTP responses.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := getClientIP(r)

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.logger.Debug().
			Str("client_ip", clientIP).
			Msg("Connection rejected: server shutting down")
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.connectionRateLimiter != nil {
		if !s.connectionRateLimiter.CheckConnectionAllowed(clientIP) {
			s.logger.Warn().
				Str("client_ip", clientIP).
				Msg("Connection rejected: rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	if !s.resourceGuard.ShouldAcceptConnection() {
		monitoring.ConnectionsFailed.Inc()
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	app, err := s.guardAppByKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		monitoring.ConnectionsFailed.Inc()
		s.logger.Error().
			Err(err).
			Str("client_ip", clientIP).
			Msg("WebSocket upgrade failed")
		return
	}

	sess := newSession(s, app, conn, clientIP)
	s.sessions.Store(sess.socketID, sess)
	s.resourceGuard.ConnectionOpened()
	atomic.AddInt64(&s.activeCount, 1)
	monitoring.RecordConnect()

	// First frame on every socket. The queue is empty so this cannot
	// fail unless the session is already being torn down.
	if !sess.enqueue(protocol.ConnectionEstablished{
		SocketID:        sess.socketID,
		ActivityTimeout: protocol.ActivityTimeout,
	}) {
		sess.teardown()
		conn.Close()
		return
	}

	sess.logger.Info().Msg("Client connected")

	go sess.writePump()
	go sess.readPump()
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For header first (for load balancers/proxies),
// then falls back to RemoteAddr.
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
