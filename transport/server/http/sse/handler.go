package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/internal/collection"
	"github.com/openmcp-run/mcpcore/transport"
	"github.com/openmcp-run/mcpcore/transport/server/base"
	"github.com/openmcp-run/mcpcore/transport/server/http/common"
	"github.com/openmcp-run/mcpcore/transport/server/http/session"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Handler represents a server-side newNandler for SSE and message transport.
type Handler struct {
	Options
	base       *base.Handler
	locator    session.Locator
	newHandler transport.NewHandler
	options    []base.Option
}

// ServeHTTP implements the http.Handler interface.
func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !common.OriginAllowed(r, s.AllowedOrigins) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	uri := r.URL.Path
	if strings.HasSuffix(uri, s.URI) {
		s.handleSSE(w, r)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if sessionId, _ := s.locator.Locate(s.StreamingSessionLocation, r); sessionId != "" {
			s.closeSession(sessionId)
			w.WriteHeader(http.StatusNoContent)
		}

	case http.MethodPost:
		s.handleMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Handle message endpoint
}

// handleMessage handles incoming messages.
func (s *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var err error
	if r.Body != nil {
		body := r.Body
		if s.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, body, s.MaxBodyBytes)
		}
		if data, err = io.ReadAll(body); err != nil {
			writeJSONRPCParseError(w, err)
			return
		}
		r.Body.Close()
	}

	ctx := r.Context() // Use the request context for handling
	useStreaming := !strings.HasSuffix(r.URL.Path, s.MessageURI)
	var aSession *base.Session
	location := s.SessionLocation
	if useStreaming {
		location = s.StreamingSessionLocation
	}
	sessionId, err := s.locator.Locate(location, r)
	if err == nil && sessionId == "" && !useStreaming {
		err = fmt.Errorf("missing %s", location.Name)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to locate session: %v", err), http.StatusBadRequest)
		return
	}

	if sessionId == "" {
		aSession = base.NewSession(ctx, "", common.NewFlushWriter(w), s.newHandler, s.options...)
		s.attachOnClose(aSession)
	} else {
		var ok bool
		if aSession, ok = s.base.Sessions.Get(sessionId); !ok {
			http.Error(w, fmt.Sprintf("session '%s' not found", sessionId), http.StatusNotFound)
			return
		}
	}
	buffer := bytes.Buffer{}
	ctx = context.WithValue(ctx, mcprpc.SessionKey, aSession)
	s.base.HandleMessage(ctx, aSession, data, &buffer)

	if buffer.Len() == 0 { //notification no response
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if useStreaming { //forward compatibility
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(s.StreamingSessionLocation.Name, aSession.Id)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(buffer.Bytes()))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	output := fmt.Sprintf("event: message\ndata: %s\n\n", buffer.String())
	aSession.Writer.Write([]byte(output))
}

// writeJSONRPCParseError replies with a JSON-RPC -32700 error for a request
// body that could not be read (typically because it exceeded MaxBodyBytes).
func writeJSONRPCParseError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := mcprpc.NewParsingError(nil, err, nil).AsResponse()
	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return
	}
	w.Write(data)
}

// handleSSE handles Server-Sent Events (SSE).
func (s *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var authCtx *auth.Context
	if s.Authenticate != nil {
		var err error
		authCtx, err = s.Authenticate(r)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	writer := common.NewFlushWriter(w) // Custom writer to handle the http.ResponseWriter
	ctx, cancelFun := context.WithCancel(r.Context())
	aSession, err := s.initSessionHandshake(ctx, writer)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to initialize aSession: %v", err), http.StatusInternalServerError)
		cancelFun()
		return
	}
	aSession.AuthContext = authCtx

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	// Main event loop - this runs in the HTTP handler goroutine
	for {
		select {
		case <-heartbeat.C:
			if _, err := writer.Write([]byte(": keepalive\n\n")); err != nil {
				s.closeSession(aSession.Id)
				cancelFun()
				return
			}
		case <-r.Context().Done():
			s.closeSession(aSession.Id)
			cancelFun()
			return
		}
	}
}

// attachOnClose wires the configured OnClose callback to fire, with this
// session's id, when the session is closed.
func (s *Handler) attachOnClose(aSession *base.Session) {
	if s.OnClose == nil {
		return
	}
	id := aSession.Id
	aSession.OnClose = func() { s.OnClose(id) }
}

// closeSession tears down and forgets a session, cancelling anything still
// in flight on it.
func (s *Handler) closeSession(sessionID string) {
	if aSession, ok := s.base.Sessions.Get(sessionID); ok {
		aSession.Close()
	}
	s.base.Sessions.Delete(sessionID)
}

// writeUnauthorized replies 401 with a WWW-Authenticate challenge describing
// why the bearer token was rejected.
func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, err.Error()))
	unauthorized := mcprpc.NewUnauthorizedError(http.StatusUnauthorized, []byte(err.Error()))
	http.Error(w, unauthorized.Error(), unauthorized.StatusCode)
}

// initSessionHandshake initializes a new session.
func (s *Handler) initSessionHandshake(ctx context.Context, writer *common.FlushWriter) (*base.Session, error) {
	aSession := base.NewSession(ctx, "", writer, s.newHandler, s.options...)
	s.attachOnClose(aSession)
	query := url.Values{}
	if err := s.locator.Set(s.SessionLocation, query, aSession.Id); err != nil {
		return nil, err
	}
	URI := s.MessageURI + "?" + query.Encode()
	payload := fmt.Sprintf("event: endpoint\ndata: %s\n\n", URI)
	if _, err := writer.Write([]byte(payload)); err != nil {
		return nil, err
	}
	s.base.Sessions.Put(aSession.Id, aSession)
	return aSession, nil
}

// New creates a new Handler instance with the provided options.
func New(newHandler transport.NewHandler, options ...Option) *Handler {
	ret := &Handler{
		newHandler: newHandler,
		locator:    session.NewLocator(),
		Options: Options{
			URI:                      "/sse",     // Default SSE URI
			MessageURI:               "/message", // Default message URI
			SessionLocation:          session.NewQueryLocation("sessionId"),
			StreamingSessionLocation: session.NewQueryLocation("Mcp-Session-Id"),
			MaxBodyBytes:             1 << 20,
		},
		base: base.NewHandler(),
		options: []base.Option{
			base.WithFramer(frameSSE),
		},
	}
	for _, opt := range options {
		opt(&ret.Options) // Apply each option to the transport instance
	}
	return ret
}

// Sessions exposes the handler's live session set, so the embedding
// application can fan out server-initiated notifications across every
// connected session.
func (s *Handler) Sessions() *collection.SyncMap[string, *base.Session] {
	return s.base.Sessions
}
