package pusher

import (
	"encoding/json"
	"strings"

	"github.com/pusherd/pusherd/internal/protocol"
)

// ChannelKind classifies a channel by its name prefix.
type ChannelKind int

const (
	// ChannelPublic requires no authorization.
	ChannelPublic ChannelKind = iota
	// ChannelPrivate requires a channel auth signature on subscribe.
	ChannelPrivate
	// ChannelPresence is private plus a user roster.
	ChannelPresence
)

// KindOf classifies a channel name: "private-*" is private, "presence-*"
// is presence, anything else is public.
func KindOf(name string) ChannelKind {
	prefix, _, _ := strings.Cut(name, "-")
	switch prefix {
	case "private":
		return ChannelPrivate
	case "presence":
		return ChannelPresence
	default:
		return ChannelPublic
	}
}

func (k ChannelKind) String() string {
	switch k {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	default:
		return "public"
	}
}

// Subscription binds one socket to one channel. The send queue is a clone
// of the owning session's bounded response queue and is the only path from
// any publisher to that session's writer.
type Subscription struct {
	send        chan<- protocol.ServerEvent
	ChannelData json.RawMessage
	UserID      string
}

// NewSubscription wraps a session's response queue for registration.
func NewSubscription(send chan<- protocol.ServerEvent, channelData json.RawMessage, userID string) Subscription {
	return Subscription{send: send, ChannelData: channelData, UserID: userID}
}

// channel is one fan-out endpoint. Guarded by the owning registry's lock;
// never accessed directly from outside the package.
type channel struct {
	kind          ChannelKind
	subscriptions map[string]Subscription
	users         map[string]json.RawMessage // presence only: user_id → user_info
}

func newChannel(name string) *channel {
	c := &channel{
		kind:          KindOf(name),
		subscriptions: make(map[string]Subscription),
	}
	if c.kind == ChannelPresence {
		c.users = make(map[string]json.RawMessage)
	}
	return c
}

func (c *channel) occupied() bool { return len(c.subscriptions) > 0 }

func (c *channel) userCount() (int, bool) {
	if c.kind != ChannelPresence {
		return 0, false
	}
	return len(c.users), true
}

// userHeld reports whether any subscription other than exceptSocketID
// still belongs to userID.
func (c *channel) userHeld(userID, exceptSocketID string) bool {
	for socketID, sub := range c.subscriptions {
		if socketID != exceptSocketID && sub.UserID == userID {
			return true
		}
	}
	return false
}

// roster snapshots the presence information, including every registered
// user. Caller holds the registry lock.
func (c *channel) roster() *protocol.PresenceInformation {
	info := &protocol.PresenceInformation{
		IDs:   make([]string, 0, len(c.users)),
		Hash:  make(map[string]json.RawMessage, len(c.users)),
		Count: len(c.users),
	}
	for id, userInfo := range c.users {
		info.IDs = append(info.IDs, id)
		info.Hash[id] = userInfo
	}
	return info
}
