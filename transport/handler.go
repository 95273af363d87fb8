package transport

import (
	"context"
	mcprpc "github.com/openmcp-run/mcpcore"
)

type Handler interface {
	Serve(ctx context.Context, request *mcprpc.Request, response *mcprpc.Response)
	OnNotification(ctx context.Context, notification *mcprpc.Notification)
}

// NewHandler is a function that creates a new Handler
type NewHandler func(ctx context.Context, transport Transport) Handler
