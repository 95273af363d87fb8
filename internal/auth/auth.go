// Package auth implements bearer-token validation and method-scope
// authorization for incoming JSON-RPC requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of validating a bearer token.
type Result struct {
	OK               bool
	Subject          string
	Scopes           []string
	ValidatedScopes  []string
	Err              error
}

func (r *Result) hasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (r *Result) checkScopes(required []string) {
	for _, scope := range required {
		if r.hasScope(scope) {
			r.ValidatedScopes = append(r.ValidatedScopes, scope)
			continue
		}
		r.OK = false
		r.Err = fmt.Errorf("missing required scope %q", scope)
		return
	}
}

// TokenValidator checks a bearer token, optionally enforcing requiredScopes.
type TokenValidator interface {
	Validate(ctx context.Context, token string, requiredScopes []string) (*Result, error)
}

// Context carries the outcome of a successful authentication, attached to a
// session for the lifetime of the connection.
type Context struct {
	Subject   string
	Scopes    []string
	Token     string
	Timestamp time.Time
}

// methodScopes is the authoritative method-to-required-scope map.
var methodScopes = map[string]string{
	"tools/call":              "tools:execute",
	"tools/list":              "tools:read",
	"resources/list":          "resources:read",
	"resources/read":          "resources:read",
	"prompts/list":            "prompts:read",
	"prompts/get":             "prompts:read",
	"completion/complete":     "completion:create",
}

// RequiredScope returns the scope a method requires, and whether the method
// is subject to scope checking at all.
func RequiredScope(method string) (string, bool) {
	scope, ok := methodScopes[method]
	return scope, ok
}

// ErrForbidden is returned when a token is valid but lacks a required scope.
var ErrForbidden = errors.New("auth: forbidden")

// ErrUnauthenticated is returned when no usable bearer token was presented.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Middleware enforces bearer-token authentication for methods outside the
// public allowlist, delegating the actual token check to a TokenValidator.
type Middleware struct {
	validator TokenValidator
	publicPaths map[string]bool
}

// NewMiddleware builds a Middleware. publicMethods bypass authentication
// entirely (e.g. "initialize", "ping").
func NewMiddleware(validator TokenValidator, publicMethods ...string) *Middleware {
	m := &Middleware{validator: validator, publicPaths: map[string]bool{}}
	for _, p := range publicMethods {
		m.publicPaths[p] = true
	}
	return m
}

// Authenticate validates the bearer token in authHeader for method, returning
// the resulting Context on success.
func (m *Middleware) Authenticate(ctx context.Context, method, authHeader string) (*Context, error) {
	if m.publicPaths[method] {
		return nil, nil
	}
	if m.validator == nil {
		return nil, nil
	}
	token, ok := bearerToken(authHeader)
	if !ok {
		return nil, ErrUnauthenticated
	}
	var required []string
	if scope, ok := RequiredScope(method); ok {
		required = []string{scope}
	}
	result, err := m.validator.Validate(ctx, token, required)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !result.OK {
		return nil, ErrForbidden
	}
	return &Context{
		Subject:   result.Subject,
		Scopes:    result.Scopes,
		Token:     token,
		Timestamp: time.Now(),
	}, nil
}

// AuthenticateRequest validates whatever bearer token authHeader carries,
// independent of any particular method's scope requirement. A missing header
// is not an error: it yields a nil Context, leaving per-method scope
// enforcement to reject the request later if the method turns out to need
// authentication. A present-but-invalid token is always an error.
func (m *Middleware) AuthenticateRequest(ctx context.Context, authHeader string) (*Context, error) {
	if m.validator == nil {
		return nil, nil
	}
	token, ok := bearerToken(authHeader)
	if !ok {
		return nil, nil
	}
	result, err := m.validator.Validate(ctx, token, nil)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !result.OK {
		return nil, ErrForbidden
	}
	return &Context{
		Subject:   result.Subject,
		Scopes:    result.Scopes,
		Token:     token,
		Timestamp: time.Now(),
	}, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
