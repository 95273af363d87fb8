package base

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/collection"
	"github.com/openmcp-run/mcpcore/transport/base"
)

// Handler represents a jsonrpc endpoint
type Handler struct {
	Sessions *collection.SyncMap[string, *Session]
	Logger   mcprpc.Logger // Logger for error messages
}

func (e *Handler) HandleMessage(ctx context.Context, session *Session, data []byte, output *bytes.Buffer) {
	messageType := base.MessageType(data)
	switch messageType {
	case mcprpc.MessageTypeBatch:
		e.handleBatch(ctx, session, data, output)
	case mcprpc.MessageTypeRequest:
		response := e.serveRequest(ctx, session, data)
		if output != nil {
			encoded, err := json.Marshal(response)
			if err != nil {
				if e.Logger != nil {
					e.Logger.Errorf("failed to encode response: %v", err)
				}
				return
			}
			output.Write(encoded)
		} else {
			session.SendResponse(ctx, response)
		}
	case mcprpc.MessageTypeResponse:
		response := &mcprpc.Response{}
		if err := json.Unmarshal(data, response); err != nil {
			if e.Logger != nil {
				e.Logger.Errorf("failed to parse response: %v", err)
			}
			return
		}
		aTrip, err := session.RoundTrips.Match(response.Id)
		if err != nil {
			return
		}
		aTrip.SetResponse(response)

		//TODO move fmt.Printf to a logger to expose to implementers
	case mcprpc.MessageTypeNotification:
		notification := &mcprpc.Notification{}
		if err := json.Unmarshal(data, notification); err != nil {
			if e.Logger != nil {
				e.Logger.Errorf("failed to parse notification: %v", err)
			}
			return
		}
		session.Handler.OnNotification(ctx, notification)
	}
}

// handleBatch processes a JSON-RPC batch: requests are dispatched
// concurrently and contribute a response entry (in original order);
// notifications are handled inline, in order, and contribute nothing. A batch
// made entirely of notifications produces no output at all.
func (e *Handler) handleBatch(ctx context.Context, session *Session, data []byte, output *bytes.Buffer) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		session.SendError(ctx, mcprpc.NewParsingError(nil, err, data))
		return
	}

	responses := make([]*mcprpc.Response, len(elements))
	var wg sync.WaitGroup
	for i, raw := range elements {
		i, raw := i, raw
		switch base.MessageType(raw) {
		case mcprpc.MessageTypeRequest:
			wg.Add(1)
			go func() {
				defer wg.Done()
				responses[i] = e.serveRequest(ctx, session, raw)
			}()
		case mcprpc.MessageTypeNotification:
			notification := &mcprpc.Notification{}
			if err := json.Unmarshal(raw, notification); err == nil {
				session.Handler.OnNotification(ctx, notification)
			}
		}
	}
	wg.Wait()

	var batch mcprpc.BatchResponse
	for _, r := range responses {
		if r != nil {
			batch = append(batch, r)
		}
	}
	if len(batch) == 0 {
		return
	}
	encoded, err := json.Marshal(batch)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Errorf("failed to encode batch response: %v", err)
		}
		return
	}
	if output != nil {
		output.Write(encoded)
		return
	}
	session.SendData(ctx, encoded)
}

// serveRequest unmarshals and dispatches a single request, returning its
// response without writing it anywhere; used for both single requests and
// batch elements.
func (e *Handler) serveRequest(ctx context.Context, session *Session, data []byte) *mcprpc.Response {
	request := &mcprpc.Request{}
	if err := json.Unmarshal(data, request); err != nil {
		return mcprpc.NewParsingError(nil, err, data).AsResponse()
	}
	if request.Id != nil {
		if intId, ok := mcprpc.AsRequestIntId(request.Id); ok {
			nextSeq := uint64(max(intId, int(atomic.LoadUint64(&session.RequestIdSeq))))
			atomic.StoreUint64(&session.RequestIdSeq, nextSeq)
		}
	}
	response := &mcprpc.Response{Id: request.Id, Jsonrpc: request.Jsonrpc}
	session.Handler.Serve(ctx, request, response)
	if response.Error != nil {
		response.Result = nil
	}
	return response
}

func NewHandler() *Handler {
	return &Handler{
		Sessions: collection.NewSyncMap[string, *Session](),
		Logger:   mcprpc.DefaultLogger,
	}
}
