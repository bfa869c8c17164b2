package pusher

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/protocol"
)

// ChannelRegistry is the per-app mapping from channel name to channel
// state. A single readers-writer lock guards the whole registry: publish,
// list and stats take the shared side; subscribe, unsubscribe and socket
// teardown take the exclusive side.
//
// Enqueues onto subscription send queues happen under the shared lock but
// never block: a full queue drops the event for that subscriber (logged
// and counted, never surfaced to the caller). A blocking send while
// holding the read lock could deadlock against teardown's write lock once
// a consumer has gone away.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*channel
	logger   zerolog.Logger
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry(logger zerolog.Logger) *ChannelRegistry {
	return &ChannelRegistry{
		channels: make(map[string]*channel),
		logger:   logger.With().Str("component", "channels").Logger(),
	}
}

// MemberRemoval records a presence user dropped from a channel during
// unsubscribe or socket teardown, for member_removed fan-out.
type MemberRemoval struct {
	Channel string
	UserID  string
}

// Subscribe inserts (or replaces) the subscription for socketID on the
// named channel, creating the channel on first use. For presence channels
// with a non-empty sub.UserID the user is added to the roster with
// userInfo; the returned roster includes the new member, and newMember is
// non-nil when the user was not already present (the caller fans out
// member_added to the other subscribers).
func (r *ChannelRegistry) Subscribe(name, socketID string, sub Subscription, userInfo json.RawMessage) (roster *protocol.PresenceInformation, newMember *protocol.PresenceUser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		ch = newChannel(name)
		r.channels[name] = ch
	}

	// A second subscribe from the same socket replaces the first. If the
	// replaced subscription held a presence user nobody else holds, the
	// user leaves the roster before the new one is applied.
	if old, ok := ch.subscriptions[socketID]; ok && ch.kind == ChannelPresence &&
		old.UserID != "" && old.UserID != sub.UserID && !ch.userHeld(old.UserID, socketID) {
		delete(ch.users, old.UserID)
	}

	ch.subscriptions[socketID] = sub
	monitoring.SetSubscriptions(r.totalSubscriptionsLocked())

	if ch.kind != ChannelPresence {
		return nil, nil
	}
	if sub.UserID != "" {
		if _, exists := ch.users[sub.UserID]; !exists {
			newMember = &protocol.PresenceUser{ID: sub.UserID, Info: userInfo}
		}
		ch.users[sub.UserID] = userInfo
	}
	return ch.roster(), newMember
}

// Unsubscribe removes socketID's subscription from the named channel.
// found is false when the channel does not exist. removed is non-nil when
// a presence user left the roster with this subscription.
func (r *ChannelRegistry) Unsubscribe(name, socketID string) (found bool, removed *MemberRemoval) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return false, nil
	}
	removed = r.removeSubscriptionLocked(name, ch, socketID)
	monitoring.SetSubscriptions(r.totalSubscriptionsLocked())
	return true, removed
}

// RemoveSocket purges socketID from every channel in the registry and
// returns the presence users that left with it. Called once on session
// teardown.
func (r *ChannelRegistry) RemoveSocket(socketID string) []MemberRemoval {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removals []MemberRemoval
	for name, ch := range r.channels {
		if removed := r.removeSubscriptionLocked(name, ch, socketID); removed != nil {
			removals = append(removals, *removed)
		}
	}
	monitoring.SetSubscriptions(r.totalSubscriptionsLocked())
	return removals
}

// removeSubscriptionLocked drops one subscription and reconciles the
// presence roster. Caller holds the exclusive lock.
func (r *ChannelRegistry) removeSubscriptionLocked(name string, ch *channel, socketID string) *MemberRemoval {
	sub, ok := ch.subscriptions[socketID]
	if !ok {
		return nil
	}
	delete(ch.subscriptions, socketID)

	if ch.kind == ChannelPresence && sub.UserID != "" && !ch.userHeld(sub.UserID, socketID) {
		delete(ch.users, sub.UserID)
		return &MemberRemoval{Channel: name, UserID: sub.UserID}
	}
	return nil
}

// Publish fans event out to every subscription of the named channel.
// Returns false when the channel does not exist. Per-subscriber queue
// overflow drops the event for that subscriber only.
func (r *ChannelRegistry) Publish(name string, event protocol.ServerEvent) bool {
	return r.publish(name, event, "")
}

// PublishExcept is Publish minus one socket, used for member_added /
// member_removed fan-out where the affected socket must not see its own
// membership event.
func (r *ChannelRegistry) PublishExcept(name string, event protocol.ServerEvent, exceptSocketID string) bool {
	return r.publish(name, event, exceptSocketID)
}

func (r *ChannelRegistry) publish(name string, event protocol.ServerEvent, exceptSocketID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return false
	}

	for socketID, sub := range ch.subscriptions {
		if socketID == exceptSocketID {
			continue
		}
		select {
		case sub.send <- event:
		default:
			// Queue full: the subscriber is too slow. Drop for this
			// subscriber and keep fanning out to the rest.
			monitoring.RecordDroppedEvent(name)
			r.logger.Warn().
				Str("channel", name).
				Str("socket_id", socketID).
				Msg("Subscriber queue full, event dropped")
		}
	}
	return true
}

// ChannelCounts is one entry of the channels listing.
type ChannelCounts struct {
	UserCount         *int `json:"user_count,omitempty"`
	SubscriptionCount int  `json:"subscription_count"`
}

// ChannelStats is the single-channel occupancy report.
type ChannelStats struct {
	Occupied          bool `json:"occupied"`
	UserCount         *int `json:"user_count,omitempty"`
	SubscriptionCount int  `json:"subscription_count"`
}

// List snapshots occupied channels, optionally filtered by name prefix.
// withUserCount adds user_count for presence channels.
func (r *ChannelRegistry) List(filterPrefix string, withUserCount bool) map[string]ChannelCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]ChannelCounts)
	for name, ch := range r.channels {
		if !ch.occupied() {
			continue
		}
		if filterPrefix != "" && !strings.HasPrefix(name, filterPrefix) {
			continue
		}
		counts := ChannelCounts{SubscriptionCount: len(ch.subscriptions)}
		if withUserCount {
			if n, ok := ch.userCount(); ok {
				counts.UserCount = &n
			}
		}
		result[name] = counts
	}
	return result
}

// Stats reports occupancy for one channel. withUserCount adds user_count
// when the channel is presence.
func (r *ChannelRegistry) Stats(name string, withUserCount bool) (ChannelStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return ChannelStats{}, ErrChannelNotFound
	}
	stats := ChannelStats{
		Occupied:          ch.occupied(),
		SubscriptionCount: len(ch.subscriptions),
	}
	if withUserCount {
		if n, ok := ch.userCount(); ok {
			stats.UserCount = &n
		}
	}
	return stats, nil
}

// SubscriptionCount reports the subscriptions held on one channel; zero
// when the channel does not exist.
func (r *ChannelRegistry) SubscriptionCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch, ok := r.channels[name]; ok {
		return len(ch.subscriptions)
	}
	return 0
}

func (r *ChannelRegistry) totalSubscriptionsLocked() int {
	total := 0
	for _, ch := range r.channels {
		total += len(ch.subscriptions)
	}
	return total
}
