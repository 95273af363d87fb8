package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/auth"
	"github.com/openmcp-run/mcpcore/internal/progress"
	"github.com/openmcp-run/mcpcore/internal/ratelimit"
	"github.com/openmcp-run/mcpcore/internal/registry"
	"github.com/openmcp-run/mcpcore/transport"
	"github.com/openmcp-run/mcpcore/transport/server/base"
)

func noopNewHandler(context.Context, transport.Transport) transport.Handler {
	return &noopHandler{}
}

type noopHandler struct{}

func (noopHandler) Serve(context.Context, *mcprpc.Request, *mcprpc.Response) {}
func (noopHandler) OnNotification(context.Context, *mcprpc.Notification)     {}

func newTestSession() *base.Session {
	return base.NewSession(context.Background(), "s1", io.Discard, noopNewHandler)
}

func contextWithSession(s *base.Session) context.Context {
	return context.WithValue(context.Background(), mcprpc.SessionKey, s)
}

func TestDispatcher_RejectsMethodBeforeInitialize(t *testing.T) {
	d := New(registry.New())
	session := newTestSession()

	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/list", Id: 1}
	resp := &mcprpc.Response{}
	d.serve(contextWithSession(session), req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.UninitializedSession {
		t.Fatalf("expected UninitializedSession error, got %+v", resp.Error)
	}
}

func TestDispatcher_InitializeThenToolsList(t *testing.T) {
	d := New(registry.New())
	d.Registry.RegisterTool(mcprpc.Tool{Name: "echo"}, func(ctx context.Context, p mcprpc.CallToolParams) (*mcprpc.CallToolResult, error) {
		return &mcprpc.CallToolResult{}, nil
	})
	session := newTestSession()
	ctx := contextWithSession(session)

	initParams, _ := json.Marshal(mcprpc.InitializeParams{ProtocolVersion: mcprpc.LatestProtocolVersion})
	initReq := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "initialize", Id: 1, Params: initParams}
	initResp := &mcprpc.Response{}
	d.serve(ctx, initReq, initResp)
	if initResp.Error != nil {
		t.Fatalf("initialize failed: %+v", initResp.Error)
	}
	d.onNotification(ctx, &mcprpc.Notification{Method: notifiedInitialized})

	listReq := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/list", Id: 2}
	listResp := &mcprpc.Response{}
	d.serve(ctx, listReq, listResp)
	if listResp.Error != nil {
		t.Fatalf("tools/list failed: %+v", listResp.Error)
	}

	var result mcprpc.ListToolsResult
	if err := json.Unmarshal(listResp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools list: %+v", result.Tools)
	}
}

func TestDispatcher_RepeatedInitializeRejected(t *testing.T) {
	d := New(registry.New())
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "initialize", Id: 1}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.InvalidRequest {
		t.Fatalf("expected InvalidRequest for repeated initialize, got %+v", resp.Error)
	}
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d := New(registry.New())
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "bogus/method", Id: 1}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

func TestDispatcher_RequiresScope(t *testing.T) {
	d := New(registry.New())
	d.Auth = auth.NewMiddleware(nil, "initialize", "ping")
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/call", Id: 1}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.Unauthorized {
		t.Fatalf("expected Unauthorized for missing auth context, got %+v", resp.Error)
	}
}

func TestDispatcher_ScopedAccessGranted(t *testing.T) {
	d := New(registry.New())
	d.Auth = auth.NewMiddleware(nil, "initialize", "ping")
	d.Registry.RegisterTool(mcprpc.Tool{Name: "echo"}, func(ctx context.Context, p mcprpc.CallToolParams) (*mcprpc.CallToolResult, error) {
		return &mcprpc.CallToolResult{}, nil
	})
	session := newTestSession()
	session.Initialized = true
	session.AuthContext = &auth.Context{Scopes: []string{"tools:execute"}}
	ctx := contextWithSession(session)

	params, _ := json.Marshal(mcprpc.CallToolParams{Name: "echo"})
	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/call", Id: 1, Params: params}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
}

func TestDispatcher_CancelRequestNotification(t *testing.T) {
	d := New(registry.New())
	session := newTestSession()
	ctx := contextWithSession(session)

	op := progress.NewOperation("7", "", "tools/call")
	session.PendingOperations.Put("7", op)

	params, _ := json.Marshal(map[string]interface{}{"requestId": "7"})
	d.onNotification(ctx, &mcprpc.Notification{Method: notifyCancelRequest, Params: params})

	if !op.Cancel.Cancelled() {
		t.Fatal("expected pending operation to be cancelled")
	}
}

func TestDispatcher_SubscribeThenNotifyResourceUpdated(t *testing.T) {
	d := New(registry.New())
	d.Registry.RegisterResource(mcprpc.Resource{URI: "file:///a"}, func(context.Context, string, map[string]string) (*mcprpc.ReadResourceResult, error) {
		return &mcprpc.ReadResourceResult{}, nil
	})

	var out bytes.Buffer
	session := base.NewSession(context.Background(), "s1", &out, noopNewHandler)
	session.Initialized = true
	ctx := contextWithSession(session)

	params, _ := json.Marshal(mcprpc.SubscribeResourceParams{URI: "file:///a"})
	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "resources/subscribe", Id: 1, Params: params}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)
	if resp.Error != nil {
		t.Fatalf("subscribe failed: %+v", resp.Error)
	}

	d.NotifyResourceUpdated(ctx, "file:///a")
	if !strings.Contains(out.String(), "notifications/resources/updated") {
		t.Fatalf("expected an updated notification to be sent, got %q", out.String())
	}

	out.Reset()
	unsubReq := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "resources/unsubscribe", Id: 2, Params: params}
	unsubResp := &mcprpc.Response{}
	d.serve(ctx, unsubReq, unsubResp)
	if unsubResp.Error != nil {
		t.Fatalf("unsubscribe failed: %+v", unsubResp.Error)
	}

	d.NotifyResourceUpdated(ctx, "file:///a")
	if out.Len() != 0 {
		t.Fatalf("expected no further notification after unsubscribe, got %q", out.String())
	}
}

func TestDispatcher_ToolCallCancelledDuringExecutionReturnsOperationCancelled(t *testing.T) {
	d := New(registry.New())
	d.Registry.RegisterTool(mcprpc.Tool{Name: "slow"}, func(ctx context.Context, p mcprpc.CallToolParams) (*mcprpc.CallToolResult, error) {
		op, _ := progress.FromContext(ctx)
		op.Cancel.Cancel()
		return &mcprpc.CallToolResult{}, nil
	})
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	params, _ := json.Marshal(mcprpc.CallToolParams{Name: "slow"})
	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/call", Id: 1, Params: params}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.OperationCancelled {
		t.Fatalf("expected OperationCancelled despite handler returning success, got %+v", resp.Error)
	}
}

func TestDispatcher_ToolHandlerReportsProgress(t *testing.T) {
	d := New(registry.New())
	var gotToken string
	var gotValue float64
	d.OnProgress = func(_ context.Context, _ *base.Session, token string, progressValue float64, _ *float64) {
		gotToken = token
		gotValue = progressValue
	}
	d.Registry.RegisterTool(mcprpc.Tool{Name: "report"}, func(ctx context.Context, p mcprpc.CallToolParams) (*mcprpc.CallToolResult, error) {
		op, _ := progress.FromContext(ctx)
		op.Report(0.5, nil)
		return &mcprpc.CallToolResult{}, nil
	})
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	reqParams, _ := json.Marshal(map[string]interface{}{"name": "report", "_meta": map[string]interface{}{"progressToken": "tok-1"}})
	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "tools/call", Id: 1, Params: reqParams}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error != nil {
		t.Fatalf("tools/call failed: %+v", resp.Error)
	}
	if gotToken != "tok-1" || gotValue != 0.5 {
		t.Fatalf("expected progress report for tok-1 at 0.5, got token=%q value=%v", gotToken, gotValue)
	}
}

func TestDispatcher_ResetSessionLimitsClearsEveryMethodBucket(t *testing.T) {
	d := New(registry.New())
	limiter := &recordingLimiter{}
	d.RateLimiter = limiter
	d.RateLimit.MaxRequests = 1

	d.ResetSessionLimits(context.Background(), "s1")

	if len(limiter.resetKeys) != len(d.methods) {
		t.Fatalf("expected a reset call per registered method, got %d for %d methods", len(limiter.resetKeys), len(d.methods))
	}
	for _, key := range limiter.resetKeys {
		if !strings.HasPrefix(key, "s1:") {
			t.Fatalf("expected every reset key to be scoped to session s1, got %q", key)
		}
	}
}

type recordingLimiter struct {
	resetKeys []string
}

func (r *recordingLimiter) Allow(context.Context, string, ratelimit.Config) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: true}, nil
}

func (r *recordingLimiter) Reset(_ context.Context, key string) error {
	r.resetKeys = append(r.resetKeys, key)
	return nil
}

func TestDispatcher_SubscribeUnknownResourceRejected(t *testing.T) {
	d := New(registry.New())
	session := newTestSession()
	session.Initialized = true
	ctx := contextWithSession(session)

	params, _ := json.Marshal(mcprpc.SubscribeResourceParams{URI: "file:///missing"})
	req := &mcprpc.Request{Jsonrpc: mcprpc.Version, Method: "resources/subscribe", Id: 1, Params: params}
	resp := &mcprpc.Response{}
	d.serve(ctx, req, resp)

	if resp.Error == nil || resp.Error.Code != mcprpc.ResourceNotFound {
		t.Fatalf("expected ResourceNotFound, got %+v", resp.Error)
	}
}
