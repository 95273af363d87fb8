package base

import (
	"bytes"

	"github.com/goccy/go-json"
	mcprpc "github.com/openmcp-run/mcpcore"
)

// MessageType classifies a raw JSON-RPC payload without fully decoding it:
// a leading "[" is a batch, a non-nil "method" with an "id" is a Request, a
// "method" with no "id" is a Notification, and anything else (carrying only
// "id") is a Response.
func MessageType(data []byte) mcprpc.MessageType {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return mcprpc.MessageTypeBatch
	}
	probe := &probe{}
	_ = json.Unmarshal(data, probe)
	if probe.Method != "" {
		if probe.Id == nil {
			return mcprpc.MessageTypeNotification
		}
		return mcprpc.MessageTypeRequest
	}
	return mcprpc.MessageTypeResponse
}

type probe struct {
	Id     mcprpc.RequestId `json:"id"`
	Method string           `json:"method"`
}
