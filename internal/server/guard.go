package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pusherd/pusherd/internal/auth"
	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/pusher"
)

// authParams are the signature query parameters carried by every
// authenticated request, plus the optional listing modifiers.
type authParams struct {
	key         string
	timestampMS int64
	version     float64
	bodyMD5     string
	signature   string

	info           infoParams
	filterByPrefix string
}

type infoParams struct {
	userCount         bool
	subscriptionCount bool
}

func parseInfoParams(raw string) infoParams {
	var info infoParams
	for _, part := range strings.Split(raw, ",") {
		switch part {
		case "user_count":
			info.userCount = true
		case "subscription_count":
			info.subscriptionCount = true
		}
	}
	return info
}

// parseAuthParams extracts the auth query parameters. Absent or
// malformed required parameters fail as MissingParameters.
func parseAuthParams(query url.Values) (authParams, error) {
	p := authParams{
		key:            query.Get("auth_key"),
		signature:      query.Get("auth_signature"),
		bodyMD5:        query.Get("body_md5"),
		filterByPrefix: query.Get("filter_by_prefix"),
		info:           parseInfoParams(query.Get("info")),
	}
	if p.key == "" || p.signature == "" {
		return authParams{}, pusher.ErrMissingParameters
	}

	timestamp, err := strconv.ParseInt(query.Get("auth_timestamp"), 10, 64)
	if err != nil {
		return authParams{}, pusher.ErrMissingParameters
	}
	p.timestampMS = timestamp

	version, err := strconv.ParseFloat(query.Get("auth_version"), 64)
	if err != nil {
		return authParams{}, pusher.ErrMissingParameters
	}
	p.version = version

	return p, nil
}

// presenceCounts reports whether listings should carry user_count: the
// request must ask for it and scope itself to presence channels.
func (p authParams) presenceCounts() bool {
	return p.info.userCount && strings.HasPrefix(p.filterByPrefix, "presence-")
}

// canonicalRequest rebuilds the string the client signed: method and
// path, then the auth parameters in fixed order using the registered
// app key. A version of exactly 1.0 renders as "1.0"; anything else
// renders as its shortest decimal form.
func canonicalRequest(method, path, appKey string, p authParams) string {
	version := "1.0"
	if p.version != 1.0 {
		version = strconv.FormatFloat(p.version, 'f', -1, 64)
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteString("\n")
	b.WriteString(path)
	b.WriteString("\n")
	b.WriteString("auth_key=")
	b.WriteString(appKey)
	b.WriteString("&auth_timestamp=")
	b.WriteString(strconv.FormatInt(p.timestampMS, 10))
	b.WriteString("&auth_version=")
	b.WriteString(version)
	if p.bodyMD5 != "" {
		b.WriteString("&body_md5=")
		b.WriteString(p.bodyMD5)
	}
	return b.String()
}

// verifyRequest checks the request signature against the app secret.
func verifyRequest(app *pusher.App, r *http.Request, p authParams) error {
	canonical := canonicalRequest(r.Method, r.URL.Path, app.Key, p)

	if err := auth.CheckSignature(p.signature, app.Secret, canonical); err != nil {
		monitoring.RecordAuthFailure("signature")
		if errors.Is(err, auth.ErrSignatureMalformed) {
			return pusher.ErrAuthSignature
		}
		return pusher.ErrAuthKeyMismatch
	}
	return nil
}

// guardAppByID resolves the app from the path's app_id and verifies the
// request signature.
func (s *Server) guardAppByID(r *http.Request) (*pusher.App, authParams, error) {
	id, err := strconv.ParseUint(r.PathValue("app_id"), 10, 32)
	if err != nil {
		monitoring.RecordAuthFailure("app_id")
		return nil, authParams{}, pusher.ErrAppIDNotFound
	}

	params, err := parseAuthParams(r.URL.Query())
	if err != nil {
		return nil, authParams{}, err
	}

	app, err := s.apps.FindByID(uint32(id))
	if err != nil {
		monitoring.RecordAuthFailure("app_id")
		return nil, authParams{}, err
	}

	if err := verifyRequest(app, r, params); err != nil {
		return nil, authParams{}, err
	}
	return app, params, nil
}

// guardAppByKey resolves the app from the path's app_key and verifies
// the request signature. Used by the WebSocket endpoint.
func (s *Server) guardAppByKey(r *http.Request) (*pusher.App, error) {
	params, err := parseAuthParams(r.URL.Query())
	if err != nil {
		return nil, err
	}

	app, err := s.apps.FindByKey(r.PathValue("app_key"))
	if err != nil {
		monitoring.RecordAuthFailure("app_key")
		return nil, err
	}

	if err := verifyRequest(app, r, params); err != nil {
		return nil, err
	}
	return app, nil
}
