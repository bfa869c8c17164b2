// Package ingest accepts channel events from a NATS subject so backend
// services can publish without going through the signed HTTP API.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pusherd/pusherd/internal/pusher"
)

// message is one inbound publish request. app_id selects the target
// app; the remaining fields mirror the HTTP events payload.
type message struct {
	AppID uint32 `json:"app_id"`
	pusher.EventRequestBody
}

// Source consumes events from a NATS subject and fans them out through
// the app channel registries.
type Source struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	apps    *pusher.AppRegistry
	logger  zerolog.Logger
}

// Config holds NATS source settings.
type Config struct {
	URL     string
	Subject string
	Apps    *pusher.AppRegistry
	Logger  zerolog.Logger
}

// NewSource connects to NATS and subscribes to the configured subject.
func NewSource(config Config) (*Source, error) {
	conn, err := nats.Connect(config.URL,
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	source := &Source{
		conn:    conn,
		subject: config.Subject,
		apps:    config.Apps,
		logger:  config.Logger.With().Str("component", "nats_ingest").Logger(),
	}

	sub, err := conn.Subscribe(config.Subject, source.handle)
	if err != nil {
		conn.Close()
		return nil, err
	}
	source.sub = sub

	source.logger.Info().
		Str("url", config.URL).
		Str("subject", config.Subject).
		Msg("NATS ingest subscribed")
	return source, nil
}

func (s *Source) handle(msg *nats.Msg) {
	var m message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.logger.Warn().Err(err).Msg("Discarding malformed ingest message")
		return
	}

	app, err := s.apps.FindByID(m.AppID)
	if err != nil {
		s.logger.Warn().
			Uint32("app_id", m.AppID).
			Msg("Discarding ingest message for unknown app")
		return
	}

	if err := pusher.PublishEvent(app, m.EventRequestBody, "nats"); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", m.Name).
			Msg("Discarding unpublishable ingest message")
	}
}

// Stop drains the subscription and closes the connection.
func (s *Source) Stop() {
	if err := s.sub.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("NATS drain failed")
	}
	s.conn.Close()
}
