package auth

import (
	"context"
	"testing"
)

type stubValidator struct {
	result *Result
	err    error
}

func (s *stubValidator) Validate(context.Context, string, []string) (*Result, error) {
	return s.result, s.err
}

func TestMiddleware_PublicMethodBypassesAuth(t *testing.T) {
	m := NewMiddleware(&stubValidator{err: ErrUnauthenticated}, "initialize", "ping")

	authCtx, err := m.Authenticate(context.Background(), "initialize", "")
	if err != nil || authCtx != nil {
		t.Fatalf("expected public method to bypass auth, got ctx=%v err=%v", authCtx, err)
	}
}

func TestMiddleware_MissingBearerTokenRejected(t *testing.T) {
	m := NewMiddleware(&stubValidator{result: &Result{OK: true}}, "initialize")

	if _, err := m.Authenticate(context.Background(), "tools/call", "Basic abc"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestMiddleware_ForbiddenWhenValidatorRejects(t *testing.T) {
	m := NewMiddleware(&stubValidator{result: &Result{OK: false}}, "initialize")

	if _, err := m.Authenticate(context.Background(), "tools/call", "Bearer tok"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestMiddleware_SuccessAttachesContext(t *testing.T) {
	m := NewMiddleware(&stubValidator{result: &Result{OK: true, Subject: "svc", Scopes: []string{"tools:execute"}}}, "initialize")

	authCtx, err := m.Authenticate(context.Background(), "tools/call", "Bearer tok")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authCtx.Subject != "svc" || authCtx.Token != "tok" {
		t.Fatalf("unexpected context: %+v", authCtx)
	}
}

func TestAuthenticateRequest_MissingHeaderIsNotAnError(t *testing.T) {
	m := NewMiddleware(&stubValidator{result: &Result{OK: true}}, "initialize")

	authCtx, err := m.AuthenticateRequest(context.Background(), "")
	if err != nil {
		t.Fatalf("AuthenticateRequest() error = %v", err)
	}
	if authCtx != nil {
		t.Fatal("expected nil context when no bearer token is presented")
	}
}

func TestRequiredScope(t *testing.T) {
	scope, ok := RequiredScope("tools/call")
	if !ok || scope != "tools:execute" {
		t.Fatalf("got scope=%q ok=%v", scope, ok)
	}
	if _, ok := RequiredScope("ping"); ok {
		t.Fatal("expected ping to have no required scope")
	}
}

func TestBearerToken(t *testing.T) {
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("expected empty token after prefix to be rejected")
	}
	token, ok := bearerToken("Bearer abc123")
	if !ok || token != "abc123" {
		t.Fatalf("got token=%q ok=%v", token, ok)
	}
}
