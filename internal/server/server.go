// Package server composes the registry, dispatcher, rate limiter, and auth
// middleware into a running MCP server and wires them to a concrete
// transport (stdio or one of the HTTP transports).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/internal/collection"
	"github.com/openmcp-run/mcpcore/internal/config"
	"github.com/openmcp-run/mcpcore/internal/dispatcher"
	"github.com/openmcp-run/mcpcore/internal/ratelimit"
	"github.com/openmcp-run/mcpcore/internal/registry"
	"github.com/openmcp-run/mcpcore/transport/server/base"
	"github.com/openmcp-run/mcpcore/transport/server/http/sse"
	"github.com/openmcp-run/mcpcore/transport/server/http/streamable"
	"github.com/openmcp-run/mcpcore/transport/server/stdio"
)

// Server is the facade an embedding application builds, registers tools
// against, and connects to a transport. It owns nothing transport-specific
// itself; ServeStdio, StreamableHandler and SSEHandler each build one of the
// existing transports around it.
type Server struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Metrics    *Metrics

	cfg         *config.ServerConfig
	rateLimiter ratelimit.Limiter
	authMw      *auth.Middleware
	logLevel    string

	streamableHandler *streamable.Handler
	sseHandler        *sse.Handler
}

// sessionSource is satisfied by every transport handler that exposes its
// live session set, letting the facade fan out notifications without
// depending on a particular transport.
type sessionSource interface {
	Sessions() *collection.SyncMap[string, *base.Session]
}

// broadcast delivers a notification to every session currently connected
// over any HTTP transport. Stdio sessions are not reachable here: a stdio
// server serves exactly one client for the process lifetime and is not
// retained by the facade.
func (s *Server) broadcast(notification *mcprpc.Notification) {
	for _, src := range []sessionSource{s.streamableHandler, s.sseHandler} {
		if src == nil || isNilHandler(src) {
			continue
		}
		src.Sessions().Range(func(_ string, session *base.Session) bool {
			_ = session.SendNotification(context.Background(), notification)
			return true
		})
	}
}

// isNilHandler guards against a non-nil interface wrapping a nil *Handler,
// which happens when streamableHandler/sseHandler have not been built yet.
func isNilHandler(src sessionSource) bool {
	switch v := src.(type) {
	case *streamable.Handler:
		return v == nil
	case *sse.Handler:
		return v == nil
	}
	return false
}

// Option customizes a Server at construction time.
type Option func(*Server)

// WithCompletionHandler installs the "completion/complete" handler.
func WithCompletionHandler(fn func(ctx context.Context, params []byte, session *base.Session) (interface{}, error)) Option {
	return func(s *Server) { s.Dispatcher.CompletionHandler = fn }
}

// New builds a Server from cfg: rate limiter backend (memory or Redis) and
// auth validator (none, static, or OAuth introspection) are selected from
// cfg.RateLimit/cfg.Auth.
func New(cfg *config.ServerConfig, info mcprpc.ServerInfo, caps mcprpc.ServerCapabilities, opts ...Option) (*Server, error) {
	reg := registry.New()
	d := dispatcher.New(reg)
	d.ServerInfo = info
	d.Capabilities = caps
	d.GlobalLimit = cfg.RateLimit.Global

	s := &Server{
		Registry:   reg,
		Dispatcher: d,
		Metrics:    NewMetrics(),
		cfg:        cfg,
		logLevel:   cfg.Server.LogLevel,
	}
	d.SetLogLevelFunc(func(level string) { s.logLevel = level })

	reg.OnChange = func(category string) {
		s.broadcast(&mcprpc.Notification{
			Jsonrpc: mcprpc.Version,
			Method:  "notifications/" + category + "/list_changed",
		})
	}
	d.OnProgress = func(_ context.Context, session *base.Session, token string, progressValue float64, total *float64) {
		if session == nil || token == "" {
			return
		}
		params := map[string]interface{}{"progressToken": token, "progress": progressValue}
		if total != nil {
			params["total"] = *total
		}
		data, _ := json.Marshal(params)
		_ = session.SendNotification(context.Background(), &mcprpc.Notification{
			Jsonrpc: mcprpc.Version, Method: "notifications/progress", Params: data,
		})
	}
	d.OnLog = func(_ context.Context, session *base.Session, level, message string) {
		if session == nil {
			return
		}
		data, _ := json.Marshal(map[string]interface{}{"level": level, "data": message})
		_ = session.SendNotification(context.Background(), &mcprpc.Notification{
			Jsonrpc: mcprpc.Version, Method: "notifications/message", Params: data,
		})
	}

	if cfg.RateLimit.Enabled {
		limiter, err := buildLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		s.rateLimiter = limiter
		d.RateLimiter = limiter
		d.RateLimit = ratelimit.Config{
			MaxRequests:    cfg.RateLimit.MaxRequests,
			WindowDuration: cfg.RateLimit.WindowDuration,
		}
	}

	validator, err := buildValidator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if validator != nil {
		s.authMw = auth.NewMiddleware(validator, "initialize", "ping")
		d.Auth = s.authMw
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func buildLimiter(cfg config.RateLimitSection) (ratelimit.Limiter, error) {
	if cfg.RedisAddr == "" {
		limiter := ratelimit.NewMemoryLimiter()
		limiter.StartCleanup(context.Background())
		return limiter, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return ratelimit.NewRedisLimiter(rdb, ""), nil
}

func buildValidator(cfg config.AuthSection) (auth.TokenValidator, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "oauth":
		if cfg.IntrospectionURL == "" {
			return nil, fmt.Errorf("server: auth.mode=oauth requires introspection_url")
		}
		var opts []auth.OAuthOption
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			opts = append(opts, auth.WithCache(auth.NewRedisCache(rdb, "")))
		}
		return auth.NewOAuthValidator(cfg.IntrospectionURL, cfg.ClientID, cfg.ClientSecret, opts...), nil
	case "static":
		// Principals are provisioned by the embedding application via
		// SetStaticPrincipals; an empty validator rejects every token
		// until it is populated.
		return auth.NewStaticValidator(nil), nil
	default:
		return nil, fmt.Errorf("server: unknown auth.mode %q", cfg.Mode)
	}
}

// SetStaticPrincipals (re)installs the static bearer-token validator used
// when cfg.Auth.Mode is "static". Call it after New once the embedding
// application has loaded its principal list; before this call, static mode
// rejects every token.
func (s *Server) SetStaticPrincipals(principals []*auth.Principal) {
	if s.cfg.Auth.Mode != "static" {
		return
	}
	s.authMw = auth.NewMiddleware(auth.NewStaticValidator(principals), "initialize", "ping")
	s.Dispatcher.Auth = s.authMw
}

// AddTool registers a tool, notifying connected sessions of the list change.
func (s *Server) AddTool(tool mcprpc.Tool, handler registry.ToolHandler) {
	s.Registry.RegisterTool(tool, handler)
}

// RemoveTool unregisters a tool by name.
func (s *Server) RemoveTool(name string) { s.Registry.UnregisterTool(name) }

// AddResource registers a static resource.
func (s *Server) AddResource(resource mcprpc.Resource, handler registry.ResourceHandler) {
	s.Registry.RegisterResource(resource, handler)
}

// AddResourceTemplate registers a URI-templated resource.
func (s *Server) AddResourceTemplate(template mcprpc.ResourceTemplate, handler registry.ResourceHandler) {
	s.Registry.RegisterResourceTemplate(template, handler)
}

// RemoveResource unregisters a static resource by URI.
func (s *Server) RemoveResource(uri string) { s.Registry.UnregisterResource(uri) }

// AddPrompt registers a prompt.
func (s *Server) AddPrompt(prompt mcprpc.Prompt, handler registry.PromptHandler) {
	s.Registry.RegisterPrompt(prompt, handler)
}

// RemovePrompt unregisters a prompt by name.
func (s *Server) RemovePrompt(name string) { s.Registry.UnregisterPrompt(name) }

// httpAuthenticator adapts the server's auth middleware to the handshake-time
// Authenticator signature shared by the sse and streamable transports.
func (s *Server) httpAuthenticator() func(r *http.Request) (*auth.Context, error) {
	if s.authMw == nil {
		return nil
	}
	return func(r *http.Request) (*auth.Context, error) {
		return s.authMw.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
	}
}

// ServeStdio runs the server over stdin/stdout until ctx is cancelled or the
// input stream closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := stdio.New(ctx, s.Dispatcher.NewSessionHandler())
	return srv.ListenAndServe()
}

// StreamableHandler returns an http.Handler implementing the
// Streamable-HTTP transport, mounted at uri.
func (s *Server) StreamableHandler(uri string) http.Handler {
	opts := []streamable.Option{
		streamable.WithURI(uri),
		streamable.WithMaxBodyBytes(4 << 20),
		streamable.WithOnClose(s.onSessionClose),
	}
	if authFn := s.httpAuthenticator(); authFn != nil {
		opts = append(opts, streamable.WithAuthenticator(authFn))
	}
	s.streamableHandler = streamable.New(s.Dispatcher.NewSessionHandler(), opts...)
	return s.streamableHandler
}

// SSEHandler returns an http.Handler implementing the legacy SSE transport.
func (s *Server) SSEHandler(sseURI, messageURI string) http.Handler {
	opts := []sse.Option{
		sse.WithURI(sseURI),
		sse.WithMessageURI(messageURI),
		sse.WithMaxBodyBytes(4 << 20),
		sse.WithOnClose(s.onSessionClose),
	}
	if authFn := s.httpAuthenticator(); authFn != nil {
		opts = append(opts, sse.WithAuthenticator(authFn))
	}
	s.sseHandler = sse.New(s.Dispatcher.NewSessionHandler(), opts...)
	return s.sseHandler
}

// onSessionClose releases rate-limit state accumulated by a session that has
// just disconnected, so a later reconnect under the same id starts fresh.
func (s *Server) onSessionClose(sessionID string) {
	s.Dispatcher.ResetSessionLimits(context.Background(), sessionID)
}

// Shutdown stops the background rate-limiter cleanup goroutine, if any.
func (s *Server) Shutdown(context.Context) error {
	if ml, ok := s.rateLimiter.(*ratelimit.MemoryLimiter); ok {
		ml.Stop()
	}
	return nil
}
