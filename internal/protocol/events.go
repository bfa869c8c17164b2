// Package protocol defines the Pusher wire protocol: the closed set of
// client and server event variants exchanged as JSON text frames, tagged
// by the "event" field.
//
// Several server-event payloads are "JSON-string encoded": the data field
// holds a JSON string whose content is itself the JSON of the inner value.
// That double encoding is part of the compatibility contract.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server event names.
const (
	EventSubscribe   = "pusher:subscribe"
	EventUnsubscribe = "pusher:unsubscribe"
	EventPing        = "pusher:ping"
)

// Server → client event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPong                  = "pusher:pong"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// ActivityTimeout is advertised to clients in connection_established.
const ActivityTimeout = 120

var errMalformedEvent = errors.New("malformed client event")

// ClientEvent is the closed sum of frames a client may send. Variants are
// Subscribe, Unsubscribe, Ping and ClientChannelEvent.
type ClientEvent interface {
	clientEvent()
}

// Subscribe asks to join a channel. Auth and ChannelData are only
// meaningful for private- and presence- channels.
type Subscribe struct {
	Channel     string
	Auth        string
	ChannelData json.RawMessage
}

// Unsubscribe asks to leave a channel.
type Unsubscribe struct {
	Channel string
}

// Ping is an application-level keep-alive; the payload is ignored.
type Ping struct{}

// ClientChannelEvent is any frame whose event name is not a pusher:*
// control event: a client-originated channel event.
type ClientChannelEvent struct {
	Event   string
	Channel string
	Data    json.RawMessage
}

func (Subscribe) clientEvent()          {}
func (Unsubscribe) clientEvent()        {}
func (Ping) clientEvent()               {}
func (ClientChannelEvent) clientEvent() {}

// DecodeClientEvent parses a text frame into its ClientEvent variant.
func DecodeClientEvent(frame []byte) (ClientEvent, error) {
	var outer struct {
		Event   string          `json:"event"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &outer); err != nil {
		return nil, err
	}
	if outer.Event == "" {
		return nil, errMalformedEvent
	}

	switch outer.Event {
	case EventSubscribe:
		var data struct {
			Channel     string          `json:"channel"`
			Auth        string          `json:"auth"`
			ChannelData json.RawMessage `json:"channel_data"`
		}
		if err := json.Unmarshal(outer.Data, &data); err != nil {
			return nil, err
		}
		if data.Channel == "" {
			return nil, errMalformedEvent
		}
		return Subscribe{Channel: data.Channel, Auth: data.Auth, ChannelData: data.ChannelData}, nil

	case EventUnsubscribe:
		var data struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(outer.Data, &data); err != nil {
			return nil, err
		}
		if data.Channel == "" {
			return nil, errMalformedEvent
		}
		return Unsubscribe{Channel: data.Channel}, nil

	case EventPing:
		return Ping{}, nil

	default:
		if outer.Channel == "" || len(outer.Data) == 0 {
			return nil, errMalformedEvent
		}
		return ClientChannelEvent{Event: outer.Event, Channel: outer.Channel, Data: outer.Data}, nil
	}
}

// EncodeClientEvent renders a ClientEvent as a wire frame. The server only
// decodes client events; encoding exists for clients and tests.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	switch e := ev.(type) {
	case Subscribe:
		data := map[string]any{"channel": e.Channel}
		if e.Auth != "" {
			data["auth"] = e.Auth
		}
		if len(e.ChannelData) > 0 {
			data["channel_data"] = e.ChannelData
		}
		return json.Marshal(map[string]any{"event": EventSubscribe, "data": data})
	case Unsubscribe:
		return json.Marshal(map[string]any{
			"event": EventUnsubscribe,
			"data":  map[string]any{"channel": e.Channel},
		})
	case Ping:
		return json.Marshal(map[string]any{"event": EventPing})
	case ClientChannelEvent:
		return json.Marshal(map[string]any{
			"event":   e.Event,
			"channel": e.Channel,
			"data":    e.Data,
		})
	default:
		return nil, fmt.Errorf("unknown client event %T", ev)
	}
}

// ConnectionInfo is the inner payload of connection_established.
type ConnectionInfo struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// PresenceInformation is the roster delivered inside
// subscription_succeeded for presence channels.
type PresenceInformation struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

// PresenceUser is the inner payload of member_added.
type PresenceUser struct {
	ID   string          `json:"user_id"`
	Info json.RawMessage `json:"user_info"`
}

// RemovedMember is the inner payload of member_removed.
type RemovedMember struct {
	ID string `json:"user_id"`
}

// ServerEvent is the closed sum of frames the server may send.
type ServerEvent interface {
	serverEvent()
}

// ConnectionEstablished is the first frame on every socket.
type ConnectionEstablished struct {
	SocketID        string
	ActivityTimeout int
}

// ErrorEvent reports a protocol-level problem inline on the socket.
// Code is serialized as null when nil.
type ErrorEvent struct {
	Message string
	Code    *uint16
}

// Pong answers a Ping.
type Pong struct{}

// SubscriptionSucceeded acknowledges a Subscribe. Presence is nil for
// non-presence channels, in which case data encodes as the string "null".
type SubscriptionSucceeded struct {
	Channel  string
	Presence *PresenceInformation
}

// MemberAdded notifies presence subscribers of a new member.
type MemberAdded struct {
	Channel string
	User    PresenceUser
}

// MemberRemoved notifies presence subscribers of a departed member.
type MemberRemoved struct {
	Channel string
	Member  RemovedMember
}

// ChannelEvent is a custom event fanned out on a channel, originating from
// either a connected client or the HTTP/NATS control plane.
type ChannelEvent struct {
	Event   string
	Channel string
	Data    json.RawMessage
	UserID  *string
}

func (ConnectionEstablished) serverEvent() {}
func (ErrorEvent) serverEvent()            {}
func (Pong) serverEvent()                  {}
func (SubscriptionSucceeded) serverEvent() {}
func (MemberAdded) serverEvent()           {}
func (MemberRemoved) serverEvent()         {}
func (ChannelEvent) serverEvent()          {}

// asJSONString marshals v and wraps the resulting JSON text in a JSON
// string, producing the double encoding the wire contract requires.
func asJSONString(v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// rawAsJSONString is asJSONString for payloads that are already JSON text.
// The input is compacted first so clients observe canonical inner JSON.
func rawAsJSONString(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.Marshal(buf.String())
}

// EncodeServerEvent renders a ServerEvent as a wire frame.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	switch e := ev.(type) {
	case ConnectionEstablished:
		data, err := asJSONString(ConnectionInfo{SocketID: e.SocketID, ActivityTimeout: e.ActivityTimeout})
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}{EventConnectionEstablished, data})

	case ErrorEvent:
		return json.Marshal(struct {
			Event   string  `json:"event"`
			Message string  `json:"message"`
			Code    *uint16 `json:"code"`
		}{EventError, e.Message, e.Code})

	case Pong:
		return json.Marshal(struct {
			Event string `json:"event"`
		}{EventPong})

	case SubscriptionSucceeded:
		data, err := asJSONString(e.Presence)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Event   string          `json:"event"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}{EventSubscriptionSucceeded, e.Channel, data})

	case MemberAdded:
		data, err := asJSONString(e.User)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Event   string          `json:"event"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}{EventMemberAdded, e.Channel, data})

	case MemberRemoved:
		data, err := asJSONString(e.Member)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Event   string          `json:"event"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}{EventMemberRemoved, e.Channel, data})

	case ChannelEvent:
		data, err := rawAsJSONString(e.Data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Event   string          `json:"event"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
			UserID  *string         `json:"user_id,omitempty"`
		}{e.Event, e.Channel, data, e.UserID})

	default:
		return nil, fmt.Errorf("unknown server event %T", ev)
	}
}

// DecodeServerEvent parses a server frame back into its variant. Used by
// client-side consumers and the test suite; JSON-string encoded payloads
// are unwrapped one level.
func DecodeServerEvent(frame []byte) (ServerEvent, error) {
	var outer struct {
		Event   string          `json:"event"`
		Channel string          `json:"channel"`
		Message string          `json:"message"`
		Code    *uint16         `json:"code"`
		Data    json.RawMessage `json:"data"`
		UserID  *string         `json:"user_id"`
	}
	if err := json.Unmarshal(frame, &outer); err != nil {
		return nil, err
	}

	unwrap := func(out any) error {
		var inner string
		if err := json.Unmarshal(outer.Data, &inner); err != nil {
			return err
		}
		return json.Unmarshal([]byte(inner), out)
	}

	switch outer.Event {
	case EventConnectionEstablished:
		var info ConnectionInfo
		if err := unwrap(&info); err != nil {
			return nil, err
		}
		return ConnectionEstablished{SocketID: info.SocketID, ActivityTimeout: info.ActivityTimeout}, nil
	case EventError:
		return ErrorEvent{Message: outer.Message, Code: outer.Code}, nil
	case EventPong:
		return Pong{}, nil
	case EventSubscriptionSucceeded:
		var presence *PresenceInformation
		if err := unwrap(&presence); err != nil {
			return nil, err
		}
		return SubscriptionSucceeded{Channel: outer.Channel, Presence: presence}, nil
	case EventMemberAdded:
		var user PresenceUser
		if err := unwrap(&user); err != nil {
			return nil, err
		}
		return MemberAdded{Channel: outer.Channel, User: user}, nil
	case EventMemberRemoved:
		var member RemovedMember
		if err := unwrap(&member); err != nil {
			return nil, err
		}
		return MemberRemoved{Channel: outer.Channel, Member: member}, nil
	default:
		var inner string
		if err := json.Unmarshal(outer.Data, &inner); err != nil {
			return nil, err
		}
		return ChannelEvent{
			Event:   outer.Event,
			Channel: outer.Channel,
			Data:    json.RawMessage(inner),
			UserID:  outer.UserID,
		}, nil
	}
}
