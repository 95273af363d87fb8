package sse

import "github.com/openmcp-run/mcpcore/transport/server/http/session"

type Option func(t *Options)

// WithSseSessionLocation sets the optional sessionIdLocation for the transport, used for constructing full URIs
func WithSseSessionLocation(location *session.Location) Option {
	return func(t *Options) {
		t.SessionLocation = location
	}
}

// WithStreamingSessionLocation sets the optional sessionIdLocation for the transport, used for constructing full URIs
func WithStreamingSessionLocation(location *session.Location) Option {
	return func(t *Options) {
		t.StreamingSessionLocation = location
	}
}

// WithMessageURI sets the message URI for the transport
func WithMessageURI(messageURI string) Option {
	// WithMessageURI sets the message URI for the transport
	return func(t *Options) {
		if t != nil {
			t.MessageURI = messageURI
		}
	}
}

// WithURI sets the SSE URI for the transport
func WithURI(sseURI string) Option {
	// WithURI sets the SSE URI for the transport
	return func(t *Options) {
		if t != nil {
			t.URI = sseURI
		}
	}
}

// WithAllowedOrigins restricts which browser Origins may open the SSE stream
// or POST messages, guarding against DNS-rebinding attacks against the
// locally bound port.
func WithAllowedOrigins(origins ...string) Option {
	return func(t *Options) {
		t.AllowedOrigins = origins
	}
}

// WithMaxBodyBytes caps the size of a POSTed message body.
func WithMaxBodyBytes(n int64) Option {
	return func(t *Options) {
		t.MaxBodyBytes = n
	}
}

// WithAuthenticator installs credential validation run at handshake time.
func WithAuthenticator(a Authenticator) Option {
	return func(t *Options) {
		t.Authenticate = a
	}
}

// WithOnClose installs a callback run after a session closes, so the
// embedding application can release any session-scoped state it owns (e.g.
// rate-limit buckets) that the session itself has no reference to.
func WithOnClose(fn func(sessionID string)) Option {
	return func(t *Options) {
		t.OnClose = fn
	}
}
