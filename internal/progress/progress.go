// Package progress tracks in-flight requests that accept a progress token
// and may later be cancelled by a "$/cancelRequest" notification.
package progress

import (
	"context"
	"sync/atomic"
)

// ctxKey is an unexported type so values stored under it cannot collide with
// keys defined by other packages.
type ctxKey int

const operationKey ctxKey = iota

// NewContext attaches op to ctx so a registered tool/resource/prompt handler
// can recover it without the dispatcher having to change every handler
// signature.
func NewContext(ctx context.Context, op *Operation) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// FromContext returns the Operation attached by NewContext, if any.
func FromContext(ctx context.Context) (*Operation, bool) {
	op, ok := ctx.Value(operationKey).(*Operation)
	return op, ok
}

// Token guards a running operation's cancellation state. Create one with
// NewToken: the zero value has no Done channel, and Cancel on it panics.
type Token struct {
	cancelled int32
	done      chan struct{}
}

// NewToken returns a ready-to-use Token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel flips the token's cancelled flag and closes Done, idempotently.
func (t *Token) Cancel() {
	if atomic.CompareAndSwapInt32(&t.cancelled, 0, 1) {
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return atomic.LoadInt32(&t.cancelled) == 1
}

// Done returns a channel closed when the token is cancelled, for use in a
// select alongside other blocking work inside a handler.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Operation is a request that is currently being served, identified by its
// JSON-RPC request id and (optionally) a client-supplied progress token.
type Operation struct {
	RequestID     string
	ProgressToken string
	Method        string
	Cancel        *Token

	// ReportFunc, if set by the dispatcher, emits a "notifications/progress"
	// event for this operation's token. Handlers should call Report rather
	// than invoke this directly: Report does nothing when the request carried
	// no progress token or ReportFunc is nil.
	ReportFunc func(progressValue float64, total *float64)
}

// NewOperation starts bookkeeping for a request.
func NewOperation(requestID, progressToken, method string) *Operation {
	return &Operation{
		RequestID:     requestID,
		ProgressToken: progressToken,
		Method:        method,
		Cancel:        NewToken(),
	}
}

// Report emits a progress update for this operation, if the dispatcher wired
// a reporter and the client supplied a progress token. Safe to call on a nil
// Operation or with no reporter configured.
func (o *Operation) Report(progressValue float64, total *float64) {
	if o == nil || o.ReportFunc == nil || o.ProgressToken == "" {
		return
	}
	o.ReportFunc(progressValue, total)
}
