// Package dispatcher implements the ordered per-message pipeline that turns
// a parsed JSON-RPC request into a response: initialization gate, rate
// limiting, authentication/authorization, method lookup, and invocation.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/internal/progress"
	"github.com/openmcp-run/mcpcore/internal/ratelimit"
	"github.com/openmcp-run/mcpcore/internal/registry"
	"github.com/openmcp-run/mcpcore/transport"
	"github.com/openmcp-run/mcpcore/transport/server/base"
)

// MethodHandler serves one MCP method. session is nil only for transports
// that never attach one (there are none at present, but handlers should not
// assume non-nil when reading optional fields off it).
type MethodHandler func(ctx context.Context, req *mcprpc.Request, session *base.Session, op *progress.Operation) (interface{}, *mcprpc.Error)

// methodsRequiringInit are allowed before a session has completed the
// initialize handshake.
var methodsRequiringInit = map[string]bool{
	"initialize": true,
	"ping":       true,
}

const notifiedInitialized = "notifications/initialized"
const notifyCancelRequest = "$/cancelRequest"

// Dispatcher routes parsed JSON-RPC messages to registered handlers,
// enforcing the initialization gate, rate limiting, and auth/scope checks
// before a handler ever runs.
type Dispatcher struct {
	Registry     *registry.Registry
	Auth         *auth.Middleware
	RateLimiter  ratelimit.Limiter
	RateLimit    ratelimit.Config
	GlobalLimit  bool // false (default): rate-limit key is per-session; true: shared across sessions
	ServerInfo   mcprpc.ServerInfo
	Capabilities mcprpc.ServerCapabilities
	Logger       mcprpc.Logger

	methods map[string]MethodHandler

	// OnLog emits a notifications/message event to a session; it is wired by
	// the server facade, which owns the transport fan-out. No built-in handler
	// calls it: "logging/setLevel" only forwards the level to SetLogLevelFunc.
	OnLog func(ctx context.Context, session *base.Session, level, message string)
	// OnProgress is invoked to emit notifications/progress events.
	OnProgress func(ctx context.Context, session *base.Session, token string, progressValue float64, total *float64)

	// CompletionHandler serves "completion/complete", an opaque pass-through
	// left to the embedding application.
	CompletionHandler func(ctx context.Context, params []byte, session *base.Session) (interface{}, error)

	setLogLevel func(level string)

	subsMu sync.Mutex
	subs   map[string]map[string]*base.Session // resource uri -> session id -> session
}

// SetLogLevelFunc installs the callback invoked by "logging/setLevel".
func (d *Dispatcher) SetLogLevelFunc(fn func(level string)) {
	d.setLogLevel = fn
}

// New builds a Dispatcher with the built-in MCP method table registered.
func New(reg *registry.Registry) *Dispatcher {
	d := &Dispatcher{
		Registry: reg,
		Logger:   mcprpc.DefaultLogger,
		methods:  map[string]MethodHandler{},
	}
	d.registerBuiltins()
	return d
}

// NewSessionHandler returns a transport.NewHandler that serves every session
// through this Dispatcher; the Dispatcher holds no per-session state itself
// (that lives on *base.Session), so one instance is safely shared.
func (d *Dispatcher) NewSessionHandler() transport.NewHandler {
	return func(_ context.Context, _ transport.Transport) transport.Handler {
		return &sessionHandler{d: d}
	}
}

type sessionHandler struct {
	d *Dispatcher
}

func (h *sessionHandler) Serve(ctx context.Context, request *mcprpc.Request, response *mcprpc.Response) {
	h.d.serve(ctx, request, response)
}

func (h *sessionHandler) OnNotification(ctx context.Context, notification *mcprpc.Notification) {
	h.d.onNotification(ctx, notification)
}

func sessionFromContext(ctx context.Context) *base.Session {
	s, _ := ctx.Value(mcprpc.SessionKey).(*base.Session)
	return s
}

func setError(resp *mcprpc.Response, err *mcprpc.Error) {
	inner := err.Error
	resp.Error = &inner
}

func (d *Dispatcher) serve(ctx context.Context, req *mcprpc.Request, resp *mcprpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp.Result = nil
			setError(resp, mcprpc.NewInternalError(req.Id, fmt.Errorf("handler panic: %v", r), nil))
		}
	}()
	session := sessionFromContext(ctx)
	method := req.Method

	if !methodsRequiringInit[method] {
		if session == nil || !session.Initialized {
			setError(resp, mcprpc.NewUninitializedSession(req.Id, method))
			return
		}
	}

	sessionID := ""
	if session != nil {
		sessionID = session.Id
	}

	if d.RateLimiter != nil && d.RateLimit.MaxRequests > 0 {
		result, err := d.RateLimiter.Allow(ctx, d.rateLimitKey(sessionID, method), d.RateLimit)
		if err == nil && !result.Allowed {
			setError(resp, mcprpc.NewRateLimited(req.Id, result.RetryAfter.Seconds()))
			return
		}
	}

	if scope, needsAuth := auth.RequiredScope(method); needsAuth && d.Auth != nil {
		if session == nil || session.AuthContext == nil {
			setError(resp, mcprpc.NewUnauthorizedRPCError(req.Id, "missing or invalid bearer token"))
			return
		}
		if !hasScope(session.AuthContext.Scopes, scope) {
			setError(resp, mcprpc.NewUnauthorizedRPCError(req.Id, "forbidden"))
			return
		}
	}

	handler, ok := d.methods[method]
	if !ok {
		setError(resp, mcprpc.NewMethodNotFound(req.Id, fmt.Errorf("unknown method %q", method), nil))
		return
	}

	op := progress.NewOperation(fmt.Sprint(req.Id), progressToken(req.Params), method)
	op.ReportFunc = func(progressValue float64, total *float64) {
		if d.OnProgress != nil {
			d.OnProgress(ctx, session, op.ProgressToken, progressValue, total)
		}
	}
	if session != nil {
		session.PendingOperations.Put(op.RequestID, op)
		defer session.PendingOperations.Delete(op.RequestID)
	}
	ctx = progress.NewContext(ctx, op)

	result, rpcErr := handler(ctx, req, session, op)
	if rpcErr != nil {
		setError(resp, rpcErr)
		return
	}
	resp.Result = mustMarshal(result)
}

func (d *Dispatcher) onNotification(ctx context.Context, n *mcprpc.Notification) {
	session := sessionFromContext(ctx)
	switch n.Method {
	case notifiedInitialized:
		if session != nil {
			session.Initialized = true
		}
	case notifyCancelRequest:
		if session == nil {
			return
		}
		var params struct {
			RequestID interface{} `json:"requestId"`
		}
		if err := unmarshal(n.Params, &params); err != nil {
			return
		}
		if op, ok := session.PendingOperations.Get(fmt.Sprint(params.RequestID)); ok {
			op.Cancel.Cancel()
		}
	case "notifications/roots/list_changed":
		// handled by a handler re-querying roots/list on demand; nothing to do here.
	}
}

func (d *Dispatcher) subscribe(uri string, session *base.Session) {
	if session == nil {
		return
	}
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if d.subs == nil {
		d.subs = map[string]map[string]*base.Session{}
	}
	if d.subs[uri] == nil {
		d.subs[uri] = map[string]*base.Session{}
	}
	d.subs[uri][session.Id] = session
}

func (d *Dispatcher) unsubscribe(uri string, session *base.Session) {
	if session == nil {
		return
	}
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if subscribers, ok := d.subs[uri]; ok {
		delete(subscribers, session.Id)
		if len(subscribers) == 0 {
			delete(d.subs, uri)
		}
	}
}

// NotifyResourceUpdated emits "notifications/resources/updated" to every
// session currently subscribed to uri. The embedding application calls this
// from a resource handler, or a background watcher, when content changes.
func (d *Dispatcher) NotifyResourceUpdated(ctx context.Context, uri string) {
	d.subsMu.Lock()
	subscribers := d.subs[uri]
	sessions := make([]*base.Session, 0, len(subscribers))
	for _, session := range subscribers {
		sessions = append(sessions, session)
	}
	d.subsMu.Unlock()

	params, _ := json.Marshal(map[string]string{"uri": uri})
	for _, session := range sessions {
		_ = session.SendNotification(ctx, &mcprpc.Notification{
			Jsonrpc: mcprpc.Version,
			Method:  "notifications/resources/updated",
			Params:  params,
		})
	}
}

func (d *Dispatcher) rateLimitKey(sessionID, method string) string {
	if d.GlobalLimit || sessionID == "" {
		return "global:" + method
	}
	return sessionID + ":" + method
}

// ResetSessionLimits releases every rate-limit bucket a session may have
// accumulated, across every registered method. The embedding application
// calls this from a transport's session-disconnect path (see base.Session's
// OnClose hook) so a reconnecting client doesn't inherit a stale window.
func (d *Dispatcher) ResetSessionLimits(ctx context.Context, sessionID string) {
	if d.RateLimiter == nil || sessionID == "" || d.GlobalLimit {
		return
	}
	for method := range d.methods {
		_ = d.RateLimiter.Reset(ctx, d.rateLimitKey(sessionID, method))
	}
}

func hasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}
