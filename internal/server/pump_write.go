package server

import (
	"bufio"
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/protocol"
)

// writePump drains the response queue and writes frames to the
// connection. Messages are batched through a buffered writer to reduce
// syscalls. It owns the write half; when it returns the connection is
// closed, which also ends the reader.
func (c *session) writePump() {
	defer monitoring.RecoverPanic(c.logger, "writePump", map[string]any{
		"socket_id": c.socketID,
	})

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
		c.teardown()
	}()

	for {
		select {
		case <-c.done:
			c.logger.Debug().Msg("Session closing")
			wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
			return

		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.writeEvent(writer, event); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to write event")
				return
			}

			// Batch whatever else is already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				event = <-c.send
				if err := c.writeEvent(writer, event); err != nil {
					c.logger.Debug().Err(err).Msg("Failed to write event")
					return
				}
			}

			if err := writer.Flush(); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to flush writer")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}

// writeEvent serializes one event onto the buffered writer. Encode
// failures are logged and skipped; they are not connection errors.
func (c *session) writeEvent(w io.Writer, event protocol.ServerEvent) error {
	frame, err := protocol.EncodeServerEvent(event)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode event")
		return nil
	}
	if err := wsutil.WriteServerMessage(w, ws.OpText, frame); err != nil {
		return err
	}
	monitoring.RecordFrameSent(len(frame))
	return nil
}
