package server

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/protocol"
)

// readPump reads frames from the WebSocket connection and dispatches
// them. It owns the read half; when it returns the session is torn
// down.
func (c *session) readPump() {
	// Panic recovery must be the first defer so it also covers cleanup.
	defer monitoring.RecoverPanic(c.logger, "readPump", map[string]any{
		"socket_id": c.socketID,
	})
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		monitoring.RecordFrameReceived(len(msg))

		switch op {
		case ws.OpText:
			if !c.limiter.Allow() {
				monitoring.IncrementRateLimitedMessages()
				c.logger.Warn().Msg("Client rate limited")
				// Best effort notice; the frame itself is dropped, the
				// connection stays up.
				c.enqueue(protocol.ErrorEvent{
					Message: "Too many messages, please slow down",
				})
				continue
			}
			c.handleFrame(msg)

		case ws.OpClose:
			return
		}
		// Pings are answered by the gobwas reader internals.
	}
}
