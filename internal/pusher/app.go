// Package pusher holds the tenant model: applications, their channel
// registries, and the subscription state the WebSocket sessions and the
// HTTP control plane share.
package pusher

import (
	"github.com/rs/zerolog"
)

// App is one tenant: an (id, key, secret) triple owning an isolated
// channel registry. Apps are registered at startup and immutable at
// runtime.
type App struct {
	ID     uint32
	Key    string
	Secret string

	Name                  string
	Host                  string
	Path                  string
	Capacity              uint32
	ClientMessagesEnabled *bool
	StatisticsEnabled     *bool
	AllowedOrigins        []string

	Channels *ChannelRegistry
}

// AppOption configures optional App fields.
type AppOption func(*App)

// WithName sets the human-readable app name.
func WithName(name string) AppOption { return func(a *App) { a.Name = name } }

// WithClientMessagesEnabled toggles client-originated channel events.
func WithClientMessagesEnabled(enabled bool) AppOption {
	return func(a *App) { a.ClientMessagesEnabled = &enabled }
}

// WithAllowedOrigins restricts which origins may connect.
func WithAllowedOrigins(origins []string) AppOption {
	return func(a *App) { a.AllowedOrigins = origins }
}

// NewApp creates an application with its own channel registry.
func NewApp(id uint32, key, secret string, logger zerolog.Logger, opts ...AppOption) *App {
	a := &App{
		ID:     id,
		Key:    key,
		Secret: secret,
		Channels: NewChannelRegistry(logger.With().
			Uint32("app_id", id).
			Logger()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ClientMessagesAllowed reports whether client-originated channel events
// are accepted. Unset means allowed.
func (a *App) ClientMessagesAllowed() bool {
	return a.ClientMessagesEnabled == nil || *a.ClientMessagesEnabled
}
