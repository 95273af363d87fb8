package sse

import (
	"net/http"

	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/transport/server/http/session"
)

// Authenticator extracts and validates credentials from an inbound request,
// returning the auth.Context to attach to the new session. A nil Authenticator
// means the transport runs unauthenticated.
type Authenticator func(r *http.Request) (*auth.Context, error)

// Options represents SSE options
type Options struct {
	MessageURI               string
	URI                      string
	SessionLocation          *session.Location // Optional sessionIdLocation for the transport, used for constructing full URIs
	StreamingSessionLocation *session.Location // Optional sessionIdLocation for the transport, used for constructing full URIs
	AllowedOrigins           []string          // Cross-origin allow-list checked against the Origin header; empty disables the SSE transport to browser origins entirely
	MaxBodyBytes             int64             // Cap applied to POSTed message bodies
	Authenticate             Authenticator     // validates the handshake request before a session is created
	OnClose                  func(sessionID string) // invoked after a session is torn down, e.g. to release rate-limit state
}
