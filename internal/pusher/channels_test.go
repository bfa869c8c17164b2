package pusher

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pusherd/pusherd/internal/protocol"
)

func TestKindOf(t *testing.T) {
	cases := map[string]ChannelKind{
		"news":           ChannelPublic,
		"private-room":   ChannelPrivate,
		"presence-room":  ChannelPresence,
		"private":        ChannelPrivate,
		"presence":       ChannelPresence,
		"privateroom":    ChannelPublic,
		"presence-a-b-c": ChannelPresence,
		"":               ChannelPublic,
	}
	for name, want := range cases {
		assert.Equal(t, want, KindOf(name), "channel %q", name)
	}
}

func testRegistry() *ChannelRegistry {
	return NewChannelRegistry(zerolog.Nop())
}

func drain(ch chan protocol.ServerEvent) []protocol.ServerEvent {
	var events []protocol.ServerEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestPublishFanOut(t *testing.T) {
	r := testRegistry()

	a := make(chan protocol.ServerEvent, 8)
	b := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(a, nil, ""), nil)
	r.Subscribe("news", "2.2", NewSubscription(b, nil, ""), nil)

	event := protocol.ChannelEvent{Event: "update", Channel: "news", Data: json.RawMessage(`"x"`)}
	require.True(t, r.Publish("news", event))

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestPublishUnknownChannel(t *testing.T) {
	r := testRegistry()
	assert.False(t, r.Publish("nowhere", protocol.Pong{}))
}

func TestPublishExceptSkipsOneSocket(t *testing.T) {
	r := testRegistry()

	a := make(chan protocol.ServerEvent, 8)
	b := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(a, nil, ""), nil)
	r.Subscribe("news", "2.2", NewSubscription(b, nil, ""), nil)

	require.True(t, r.PublishExcept("news", protocol.Pong{}, "1.1"))
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestPublishDropsOnFullQueue(t *testing.T) {
	r := testRegistry()

	full := make(chan protocol.ServerEvent, 1)
	r.Subscribe("news", "1.1", NewSubscription(full, nil, ""), nil)

	require.True(t, r.Publish("news", protocol.Pong{}))
	// The queue is now full; this publish must not block and must not
	// disturb other state.
	require.True(t, r.Publish("news", protocol.Pong{}))

	assert.Len(t, drain(full), 1)
	assert.Equal(t, 1, r.SubscriptionCount("news"))
}

func TestResubscribeReplaces(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)

	assert.Equal(t, 1, r.SubscriptionCount("news"))
}

func TestUnsubscribe(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)

	found, removed := r.Unsubscribe("news", "1.1")
	assert.True(t, found)
	assert.Nil(t, removed)
	assert.Equal(t, 0, r.SubscriptionCount("news"))

	// Unknown channel reports not found.
	found, _ = r.Unsubscribe("nowhere", "1.1")
	assert.False(t, found)
}

func TestPresenceRoster(t *testing.T) {
	r := testRegistry()

	a := make(chan protocol.ServerEvent, 8)
	b := make(chan protocol.ServerEvent, 8)

	roster, newMember := r.Subscribe("presence-room", "1.1",
		NewSubscription(a, nil, "u1"), json.RawMessage(`{"name":"A"}`))
	require.NotNil(t, roster)
	require.NotNil(t, newMember)
	assert.Equal(t, "u1", newMember.ID)
	assert.Equal(t, 1, roster.Count)

	roster, newMember = r.Subscribe("presence-room", "2.2",
		NewSubscription(b, nil, "u2"), json.RawMessage(`{"name":"B"}`))
	require.NotNil(t, newMember)
	assert.Equal(t, 2, roster.Count)
	assert.ElementsMatch(t, []string{"u1", "u2"}, roster.IDs)
	assert.JSONEq(t, `{"name":"B"}`, string(roster.Hash["u2"]))
}

func TestPresenceSameUserTwoSockets(t *testing.T) {
	r := testRegistry()

	a := make(chan protocol.ServerEvent, 8)
	b := make(chan protocol.ServerEvent, 8)

	_, newMember := r.Subscribe("presence-room", "1.1", NewSubscription(a, nil, "u1"), nil)
	require.NotNil(t, newMember)

	// Second socket for the same user is not a new member.
	roster, newMember := r.Subscribe("presence-room", "2.2", NewSubscription(b, nil, "u1"), nil)
	assert.Nil(t, newMember)
	assert.Equal(t, 1, roster.Count)

	// The user stays while any of their sockets remains.
	_, removed := r.Unsubscribe("presence-room", "1.1")
	assert.Nil(t, removed)

	_, removed = r.Unsubscribe("presence-room", "2.2")
	require.NotNil(t, removed)
	assert.Equal(t, "u1", removed.UserID)
}

func TestPresenceUserCountBoundedBySubscriptions(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("presence-room", "1.1", NewSubscription(q, nil, "u1"), nil)
	r.Subscribe("presence-room", "2.2", NewSubscription(q, nil, ""), nil)

	stats, err := r.Stats("presence-room", true)
	require.NoError(t, err)
	require.NotNil(t, stats.UserCount)
	assert.LessOrEqual(t, *stats.UserCount, stats.SubscriptionCount)
}

func TestRemoveSocketPurgesEverywhere(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)
	r.Subscribe("presence-room", "1.1", NewSubscription(q, nil, "u1"), nil)

	removals := r.RemoveSocket("1.1")
	require.Len(t, removals, 1)
	assert.Equal(t, MemberRemoval{Channel: "presence-room", UserID: "u1"}, removals[0])

	assert.Equal(t, 0, r.SubscriptionCount("news"))
	assert.Equal(t, 0, r.SubscriptionCount("presence-room"))
}

func TestListFiltersUnoccupiedAndByPrefix(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)
	r.Subscribe("presence-room", "1.1", NewSubscription(q, nil, "u1"), nil)
	r.Subscribe("presence-lobby", "2.2", NewSubscription(q, nil, "u2"), nil)

	// Empty channels stay in the map but drop out of listings.
	r.Unsubscribe("news", "1.1")

	all := r.List("", false)
	assert.Len(t, all, 2)
	assert.NotContains(t, all, "news")

	presence := r.List("presence-", true)
	require.Len(t, presence, 2)
	require.NotNil(t, presence["presence-room"].UserCount)
	assert.Equal(t, 1, *presence["presence-room"].UserCount)

	none := r.List("private-", false)
	assert.Empty(t, none)
}

func TestStats(t *testing.T) {
	r := testRegistry()

	q := make(chan protocol.ServerEvent, 8)
	r.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)

	stats, err := r.Stats("news", false)
	require.NoError(t, err)
	assert.True(t, stats.Occupied)
	assert.Equal(t, 1, stats.SubscriptionCount)
	assert.Nil(t, stats.UserCount)

	// user_count never appears on non-presence channels.
	stats, err = r.Stats("news", true)
	require.NoError(t, err)
	assert.Nil(t, stats.UserCount)

	_, err = r.Stats("nowhere", false)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestAppRegistryLookups(t *testing.T) {
	app := NewApp(7, "key-7", "secret-7", zerolog.Nop())
	r := NewAppRegistry(app)

	found, err := r.FindByKey("key-7")
	require.NoError(t, err)
	assert.Same(t, app, found)

	found, err = r.FindByID(7)
	require.NoError(t, err)
	assert.Same(t, app, found)

	_, err = r.FindByKey("missing")
	assert.ErrorIs(t, err, ErrAppKeyNotFound)

	_, err = r.FindByID(99)
	assert.ErrorIs(t, err, ErrAppIDNotFound)
}

func TestClientMessagesAllowedDefault(t *testing.T) {
	app := NewApp(1, "k", "s", zerolog.Nop())
	assert.True(t, app.ClientMessagesAllowed())

	disabled := NewApp(2, "k2", "s2", zerolog.Nop(), WithClientMessagesEnabled(false))
	assert.False(t, disabled.ClientMessagesAllowed())
}

func TestPublishEventTargets(t *testing.T) {
	app := NewApp(1, "k", "s", zerolog.Nop())

	q := make(chan protocol.ServerEvent, 8)
	app.Channels.Subscribe("news", "1.1", NewSubscription(q, nil, ""), nil)

	channel := "news"
	err := PublishEvent(app, EventRequestBody{Name: "update", Data: "hello", Channel: &channel}, "http")
	require.NoError(t, err)

	events := drain(q)
	require.Len(t, events, 1)
	ce, ok := events[0].(protocol.ChannelEvent)
	require.True(t, ok)
	assert.Equal(t, "update", ce.Event)
	assert.Equal(t, `"hello"`, string(ce.Data))

	// Neither channel nor channels is an error.
	err = PublishEvent(app, EventRequestBody{Name: "update", Data: "x"}, "http")
	assert.ErrorIs(t, err, ErrEventChannelEmpty)

	// Empty-string channel names are rejected too.
	empty := ""
	err = PublishEvent(app, EventRequestBody{Name: "update", Data: "x", Channel: &empty}, "http")
	assert.ErrorIs(t, err, ErrEventChannelEmpty)

	err = PublishEvent(app, EventRequestBody{Name: "update", Data: "x", Channels: []string{"news", ""}}, "http")
	assert.ErrorIs(t, err, ErrEventChannelEmpty)

	// Unknown channels are silently skipped.
	err = PublishEvent(app, EventRequestBody{Name: "update", Data: "x", Channels: []string{"nowhere"}}, "http")
	assert.NoError(t, err)
}
