package transport

import (
	"context"
	mcprpc "github.com/openmcp-run/mcpcore"
)

type Transport interface {
	Notifier
	Send(ctx context.Context, request *mcprpc.Request) (*mcprpc.Response, error)
}
