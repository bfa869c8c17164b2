package server

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pusherd/pusherd/internal/auth"
	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/pusher"
	"github.com/pusherd/pusherd/internal/protocol"
)

// session is one upgraded WebSocket connection: a socket id, a bounded
// response queue, and the reader/writer pair draining both sides. The
// channel registry holds producer clones of the queue; the session owns
// the consumer end.
type session struct {
	server   *Server
	app      *pusher.App
	conn     net.Conn
	socketID string
	clientIP string

	send chan protocol.ServerEvent
	done chan struct{}

	// per-client inbound frame budget
	limiter *rate.Limiter

	logger zerolog.Logger

	// closing is set before teardown purges the registry, so a subscribe
	// racing teardown can detect it and undo its own insert.
	closing int32

	doneOnce     sync.Once // closes done
	connOnce     sync.Once // closes conn
	teardownOnce sync.Once
}

func newSession(s *Server, app *pusher.App, conn net.Conn, clientIP string) *session {
	socketID := auth.GenerateSocketID()
	return &session{
		server:   s,
		app:      app,
		conn:     conn,
		socketID: socketID,
		clientIP: clientIP,
		send:     make(chan protocol.ServerEvent, sendQueueSize),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(s.config.ClientMessageRate), s.config.ClientMessageBurst),
		logger: s.logger.With().
			Str("socket_id", socketID).
			Uint32("app_id", app.ID).
			Str("client_ip", clientIP).
			Logger(),
	}
}

// enqueue try-sends onto the response queue. False means the queue is
// full or the session is shutting down; the event is lost.
func (c *session) enqueue(event protocol.ServerEvent) bool {
	if atomic.LoadInt32(&c.closing) == 1 {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// close signals the writer to stop. The send queue itself is never
// closed: producer clones in the registry may still try-send while
// teardown runs, and a send on a closed channel would panic the
// publisher.
func (c *session) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *session) closeConn() {
	c.connOnce.Do(func() { c.conn.Close() })
}

// teardown runs exactly once when either pump finishes: purge this
// socket from every channel, announce departed presence members, then
// release the writer.
func (c *session) teardown() {
	c.teardownOnce.Do(func() {
		atomic.StoreInt32(&c.closing, 1)

		removals := c.app.Channels.RemoveSocket(c.socketID)
		for _, removal := range removals {
			c.app.Channels.Publish(removal.Channel, protocol.MemberRemoved{
				Channel: removal.Channel,
				Member:  protocol.RemovedMember{ID: removal.UserID},
			})
		}

		c.server.sessions.Delete(c.socketID)
		c.server.resourceGuard.ConnectionClosed()
		atomic.AddInt64(&c.server.activeCount, -1)
		monitoring.RecordDisconnect()

		c.close()
		c.logger.Info().Msg("Client disconnected")
	})
}

// handleFrame dispatches one decoded text frame.
func (c *session) handleFrame(frame []byte) {
	event, err := protocol.DecodeClientEvent(frame)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Discarding undecodable frame")
		return
	}

	switch e := event.(type) {
	case protocol.Subscribe:
		c.handleSubscribe(e)
	case protocol.Unsubscribe:
		c.handleUnsubscribe(e)
	case protocol.Ping:
		c.enqueue(protocol.Pong{})
	case protocol.ClientChannelEvent:
		c.handleClientEvent(e)
	}
}

func (c *session) handleSubscribe(e protocol.Subscribe) {
	kind := pusher.KindOf(e.Channel)

	if kind != pusher.ChannelPublic && !c.verifyChannelAuth(e) {
		monitoring.RecordAuthFailure("channel_auth")
		c.enqueue(protocol.ErrorEvent{
			Message: fmt.Sprintf("Invalid auth signature for channel %s", e.Channel),
		})
		return
	}

	var userID string
	var userInfo json.RawMessage
	if kind == pusher.ChannelPresence {
		userID, userInfo = presenceIdentity(e.ChannelData)
		if userID == "" {
			c.enqueue(protocol.ErrorEvent{
				Message: fmt.Sprintf("Presence channel %s requires channel_data with a user_id", e.Channel),
			})
			return
		}
	}

	sub := pusher.NewSubscription(c.send, e.ChannelData, userID)
	roster, newMember := c.app.Channels.Subscribe(e.Channel, c.socketID, sub, userInfo)

	// Teardown may have purged this socket between the read of this
	// frame and the insert; the entry must not outlive the session.
	if atomic.LoadInt32(&c.closing) == 1 {
		c.app.Channels.Unsubscribe(e.Channel, c.socketID)
		return
	}

	c.enqueue(protocol.SubscriptionSucceeded{Channel: e.Channel, Presence: roster})

	if newMember != nil {
		c.app.Channels.PublishExcept(e.Channel, protocol.MemberAdded{
			Channel: e.Channel,
			User:    *newMember,
		}, c.socketID)
	}

	c.logger.Debug().
		Str("channel", e.Channel).
		Str("kind", kind.String()).
		Msg("Subscribed")
}

func (c *session) handleUnsubscribe(e protocol.Unsubscribe) {
	found, removed := c.app.Channels.Unsubscribe(e.Channel, c.socketID)
	if !found {
		c.enqueue(protocol.ErrorEvent{
			Message: fmt.Sprintf(
				"No current subscription to channel %s, or subscription in progress",
				e.Channel,
			),
		})
		return
	}
	if removed != nil {
		c.app.Channels.Publish(removed.Channel, protocol.MemberRemoved{
			Channel: removed.Channel,
			Member:  protocol.RemovedMember{ID: removed.UserID},
		})
	}
}

func (c *session) handleClientEvent(e protocol.ClientChannelEvent) {
	if !c.app.ClientMessagesAllowed() {
		c.enqueue(protocol.ErrorEvent{
			Message: "Client events are disabled for this app",
		})
		return
	}

	published := c.app.Channels.Publish(e.Channel, protocol.ChannelEvent{
		Event:   e.Event,
		Channel: e.Channel,
		Data:    e.Data,
	})
	if !published {
		c.logger.Debug().
			Str("channel", e.Channel).
			Str("event", e.Event).
			Msg("Client event for unknown channel dropped")
		return
	}
	monitoring.RecordPublishedEvent("client")
}

// verifyChannelAuth checks the subscribe auth token for private and
// presence channels: "<app key>:<HMAC of socket_id:channel[:channel_data]>".
func (c *session) verifyChannelAuth(e protocol.Subscribe) bool {
	toSign := c.socketID + ":" + e.Channel
	if len(e.ChannelData) > 0 {
		toSign += ":" + string(e.ChannelData)
	}
	expected := auth.CreateChannelAuth(c.app.Key, c.app.Secret, toSign)
	return hmac.Equal([]byte(e.Auth), []byte(expected))
}

// presenceIdentity extracts user_id and user_info from a subscribe's
// channel_data, which arrives either as a JSON object or as a JSON
// string wrapping one.
func presenceIdentity(channelData json.RawMessage) (string, json.RawMessage) {
	raw := channelData
	var wrapped string
	if json.Unmarshal(raw, &wrapped) == nil {
		raw = []byte(wrapped)
	}

	var payload struct {
		UserID   json.RawMessage `json:"user_id"`
		UserInfo json.RawMessage `json:"user_info"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.UserID) == 0 {
		return "", nil
	}

	var id string
	if err := json.Unmarshal(payload.UserID, &id); err != nil {
		// Numeric user ids are kept in their literal form.
		id = string(payload.UserID)
	}
	return id, payload.UserInfo
}
