package streamable

import (
	"net/http"

	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/transport/server/http/session"
)

// Authenticator extracts and validates credentials from an inbound request,
// returning the auth.Context to attach to the new session. A nil Authenticator
// means the transport runs unauthenticated.
type Authenticator func(r *http.Request) (*auth.Context, error)

// Options exposes configurable attributes of the handler.
type Options struct {
	// URI of the endpoint (configurable; empty matches any path when handler is mounted on a specific route)
	URI string

	// SessionLocation defines where session id is transported (header or query param)
	SessionLocation *session.Location

	// AllowedOrigins restricts cross-origin access, checked against the
	// Origin header the same way the SSE transport does.
	AllowedOrigins []string

	// MaxBodyBytes caps the size of a POSTed message body.
	MaxBodyBytes int64

	// Authenticate validates the handshake request and, when set, must
	// succeed before a session is created.
	Authenticate Authenticator

	// OnClose, if set, is invoked with a session's id after it closes, so the
	// embedding application can release session-scoped state it owns (e.g.
	// rate-limit buckets).
	OnClose func(sessionID string)
}

// Option mutates Options.
type Option func(*Options)

// WithURI sets custom URI.
func WithURI(uri string) Option {
	return func(o *Options) { o.URI = uri }
}

// WithSessionLocation overrides default session location.
func WithSessionLocation(loc *session.Location) Option {
	return func(o *Options) { o.SessionLocation = loc }
}

// WithAllowedOrigins restricts which browser Origins may use this endpoint.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Options) { o.AllowedOrigins = origins }
}

// WithMaxBodyBytes caps the size of a POSTed message body.
func WithMaxBodyBytes(n int64) Option {
	return func(o *Options) { o.MaxBodyBytes = n }
}

// WithAuthenticator installs credential validation run at handshake time.
func WithAuthenticator(a Authenticator) Option {
	return func(o *Options) { o.Authenticate = a }
}

// WithOnClose installs a callback run after a session closes.
func WithOnClose(fn func(sessionID string)) Option {
	return func(o *Options) { o.OnClose = fn }
}
