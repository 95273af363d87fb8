package progress

import (
	"context"
	"testing"
)

func TestToken_CancelIsIdempotent(t *testing.T) {
	tok := NewToken()
	if tok.Cancelled() {
		t.Fatal("new token should not start cancelled")
	}

	tok.Cancel()
	tok.Cancel() // must not panic on double-close

	if !tok.Cancelled() {
		t.Fatal("expected token to be cancelled")
	}
	select {
	case <-tok.Done():
	default:
		t.Fatal("expected Done() channel to be closed")
	}
}

func TestNewOperation(t *testing.T) {
	op := NewOperation("1", "tok-1", "tools/call")
	if op.RequestID != "1" || op.ProgressToken != "tok-1" || op.Method != "tools/call" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	if op.Cancel == nil || op.Cancel.Cancelled() {
		t.Fatal("expected a fresh, uncancelled token")
	}
}

func TestContext_RoundTrip(t *testing.T) {
	op := NewOperation("1", "tok-1", "tools/call")
	ctx := NewContext(context.Background(), op)

	got, ok := FromContext(ctx)
	if !ok || got != op {
		t.Fatalf("expected FromContext to return the attached operation, got %+v ok=%v", got, ok)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected FromContext on a bare context to report absent")
	}
}

func TestOperation_ReportRequiresTokenAndFunc(t *testing.T) {
	var calls int
	op := NewOperation("1", "", "tools/call")
	op.ReportFunc = func(float64, *float64) { calls++ }
	op.Report(0.5, nil) // no progress token: must be a no-op

	if calls != 0 {
		t.Fatalf("expected no report without a progress token, got %d calls", calls)
	}

	op.ProgressToken = "tok-1"
	op.Report(0.5, nil)
	if calls != 1 {
		t.Fatalf("expected exactly one report, got %d", calls)
	}

	var nilOp *Operation
	nilOp.Report(1, nil) // must not panic
}
