package transport

import (
	"context"
	mcprpc "github.com/openmcp-run/mcpcore"
)

// Notifier represents a notification handler
type Notifier interface {
	Notify(ctx context.Context, notification *mcprpc.Notification) error
}
