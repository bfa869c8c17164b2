package pusher

import (
	"encoding/json"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/protocol"
)

// EventRequestBody is the payload accepted by the HTTP events endpoint
// and the NATS ingest subject. Exactly one of Channel and Channels must
// be set.
type EventRequestBody struct {
	Name     string   `json:"name"`
	Data     string   `json:"data"`
	Channels []string `json:"channels,omitempty"`
	Channel  *string  `json:"channel,omitempty"`
	SocketID *string  `json:"socket_id,omitempty"`
}

// targets resolves the channel list, enforcing the exactly-one rule.
// Empty-string channel names count as absent.
func (b *EventRequestBody) targets() ([]string, error) {
	switch {
	case b.Channel != nil && len(b.Channels) == 0:
		if *b.Channel == "" {
			return nil, ErrEventChannelEmpty
		}
		return []string{*b.Channel}, nil
	case b.Channel == nil && len(b.Channels) > 0:
		for _, name := range b.Channels {
			if name == "" {
				return nil, ErrEventChannelEmpty
			}
		}
		return b.Channels, nil
	default:
		return nil, ErrEventChannelEmpty
	}
}

// PublishEvent fans the event out to its target channels on the app.
// The data string is carried as a JSON string on the wire, and the
// request's socket_id rides along as the event's user_id. Channels
// with no subscribers are silently skipped. Source labels the publish
// metric ("http" or "nats").
func PublishEvent(app *App, body EventRequestBody, source string) error {
	channels, err := body.targets()
	if err != nil {
		return err
	}

	data, err := json.Marshal(body.Data)
	if err != nil {
		return err
	}

	for _, name := range channels {
		event := protocol.ChannelEvent{
			Event:   body.Name,
			Channel: name,
			Data:    data,
			UserID:  body.SocketID,
		}
		app.Channels.Publish(name, event)
		monitoring.RecordPublishedEvent(source)
	}
	return nil
}
