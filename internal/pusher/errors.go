package pusher

import "net/http"

// Error is a control-plane failure with a fixed HTTP status and message.
// The message strings and status mapping are part of the compatibility
// contract and must not drift.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrMissingParameters  = &Error{http.StatusBadRequest, "Missing parameter"}
	ErrChannelNotFound    = &Error{http.StatusNotFound, "Channel Not Found"}
	ErrChannelNotPresence = &Error{http.StatusBadRequest, "This Channel Not Presence Channel"}
	ErrChannelsNotFound   = &Error{http.StatusNotFound, "Channels is Empty"}
	ErrEventChannelEmpty  = &Error{http.StatusNotFound, "Event Channel or Channels Field Cannot Be Empty"}
	ErrNotFound           = &Error{http.StatusNotFound, "Pusher App Not Found"}
	ErrAppKeyNotFound     = &Error{http.StatusNotFound, "There is no app with the app_key you specified"}
	ErrAppIDNotFound      = &Error{http.StatusNotFound, "There is no app with the app_id you specified"}
	ErrAuthKeyMismatch    = &Error{http.StatusUnauthorized, "Auth credentials is wrong"}
	ErrAuthSignature      = &Error{http.StatusUnauthorized, "Invalid Auth Signature."}
)
