package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pusherd/pusherd/internal/pusher"
)

// maxEventBodyBytes caps the events endpoint request body.
const maxEventBodyBytes = 16 << 10

var errInvalidBody = &pusher.Error{Status: http.StatusBadRequest, Message: "Invalid Body"}
var errMethodNotAllowed = &pusher.Error{Status: http.StatusMethodNotAllowed, Message: "Method Not Allowed"}
var errRouteNotFound = &pusher.Error{Status: http.StatusNotFound, Message: "Not Found"}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders a control-plane failure in the fixed
// {"code":…,"message":…} shape. Anything that is not a pusher.Error is
// an unhandled failure and becomes a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var perr *pusher.Error
	if errors.As(err, &perr) {
		writeJSON(w, perr.Status, errorBody{Code: perr.Status, Message: perr.Message})
		return
	}
	s.logger.Error().Err(err).Msg("Unhandled request error")
	writeJSON(w, http.StatusInternalServerError,
		errorBody{Code: http.StatusInternalServerError, Message: "Internal Server Error"})
}

// handleEventCreate publishes an event to one or more channels of the
// app. Responds with an empty JSON object on success.
func (s *Server) handleEventCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	app, _, err := s.guardAppByID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodyBytes)
	var body pusher.EventRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errInvalidBody)
		return
	}

	if err := pusher.PublishEvent(app, body, "http"); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type channelListResponse struct {
	Channels map[string]pusher.ChannelCounts `json:"channels"`
}

// handleChannelList reports the occupied channels of the app,
// optionally filtered by name prefix.
func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	app, params, err := s.guardAppByID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	channels := app.Channels.List(params.filterByPrefix, params.presenceCounts())
	writeJSON(w, http.StatusOK, channelListResponse{Channels: channels})
}

// handleChannelStats reports occupancy for a single channel.
func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	app, params, err := s.guardAppByID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stats, err := app.Channels.Stats(r.PathValue("channel_name"), params.presenceCounts())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, errMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIndex catches everything no other route matched.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, errRouteNotFound)
}
