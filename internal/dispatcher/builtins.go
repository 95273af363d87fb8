package dispatcher

import (
	"context"
	"fmt"

	mcprpc "github.com/openmcp-run/mcpcore"
	"github.com/openmcp-run/mcpcore/internal/progress"
	"github.com/openmcp-run/mcpcore/transport/server/base"
)

func (d *Dispatcher) registerBuiltins() {
	d.methods["initialize"] = d.handleInitialize
	d.methods["ping"] = d.handlePing
	d.methods["tools/list"] = d.handleToolsList
	d.methods["tools/call"] = d.handleToolsCall
	d.methods["resources/list"] = d.handleResourcesList
	d.methods["resources/templates/list"] = d.handleResourceTemplatesList
	d.methods["resources/read"] = d.handleResourcesRead
	d.methods["resources/subscribe"] = d.handleResourcesSubscribe
	d.methods["resources/unsubscribe"] = d.handleResourcesUnsubscribe
	d.methods["prompts/list"] = d.handlePromptsList
	d.methods["prompts/get"] = d.handlePromptsGet
	d.methods["logging/setLevel"] = d.handleLoggingSetLevel
	d.methods["completion/complete"] = d.handleCompletionComplete
}

func (d *Dispatcher) handleInitialize(_ context.Context, req *mcprpc.Request, session *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	if session != nil && session.Initialized {
		return nil, mcprpc.NewRepeatedInitialize(req.Id)
	}
	var params mcprpc.InitializeParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}

	negotiated := negotiateVersion(params.ProtocolVersion)
	if negotiated == "" {
		return nil, mcprpc.NewIncompatibleProtocol(req.Id, params.ProtocolVersion, mcprpc.SupportedProtocolVersions)
	}

	if session != nil {
		session.ProtocolVersion = negotiated
		session.Capabilities = params.Capabilities
	}

	return mcprpc.InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    d.Capabilities,
		ServerInfo:      d.ServerInfo,
	}, nil
}

// negotiateVersion returns the newest supported revision that is not newer
// than requested (revisions are YYYY-MM-DD dates, so they compare as strings),
// or "" when every supported revision is newer.
func negotiateVersion(requested string) string {
	for _, v := range mcprpc.SupportedProtocolVersions {
		if v <= requested {
			return v
		}
	}
	return ""
}

func (d *Dispatcher) handlePing(context.Context, *mcprpc.Request, *base.Session, *progress.Operation) (interface{}, *mcprpc.Error) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleToolsList(context.Context, *mcprpc.Request, *base.Session, *progress.Operation) (interface{}, *mcprpc.Error) {
	return mcprpc.ListToolsResult{Tools: d.Registry.Tools()}, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *mcprpc.Request, session *base.Session, op *progress.Operation) (interface{}, *mcprpc.Error) {
	var params mcprpc.CallToolParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	_, handler, ok := d.Registry.Tool(params.Name)
	if !ok {
		return nil, mcprpc.NewToolNotFound(req.Id, params.Name)
	}
	result, err := handler(ctx, params)
	// Checked regardless of err: a handler that ignores $/cancelRequest and
	// runs to completion anyway must still surface as cancelled, not success.
	if op.Cancel.Cancelled() {
		return nil, mcprpc.NewOperationCancelled(req.Id)
	}
	if err != nil {
		return nil, mcprpc.NewInternalError(req.Id, err, nil)
	}
	return result, nil
}

func (d *Dispatcher) handleResourcesList(context.Context, *mcprpc.Request, *base.Session, *progress.Operation) (interface{}, *mcprpc.Error) {
	return mcprpc.ListResourcesResult{Resources: d.Registry.Resources()}, nil
}

func (d *Dispatcher) handleResourceTemplatesList(context.Context, *mcprpc.Request, *base.Session, *progress.Operation) (interface{}, *mcprpc.Error) {
	return mcprpc.ListResourceTemplatesResult{ResourceTemplates: d.Registry.ResourceTemplates()}, nil
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *mcprpc.Request, _ *base.Session, op *progress.Operation) (interface{}, *mcprpc.Error) {
	var params mcprpc.ReadResourceParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	handler, pathParams, ok := d.Registry.MatchResource(params.URI)
	if !ok {
		return nil, mcprpc.NewResourceNotFound(req.Id, params.URI)
	}
	result, err := handler(ctx, params.URI, pathParams)
	if op.Cancel.Cancelled() {
		return nil, mcprpc.NewOperationCancelled(req.Id)
	}
	if err != nil {
		return nil, mcprpc.NewInternalError(req.Id, err, nil)
	}
	return result, nil
}

func (d *Dispatcher) handleResourcesSubscribe(_ context.Context, req *mcprpc.Request, session *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	var params mcprpc.SubscribeResourceParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	if _, _, ok := d.Registry.MatchResource(params.URI); !ok {
		return nil, mcprpc.NewResourceNotFound(req.Id, params.URI)
	}
	d.subscribe(params.URI, session)
	return struct{}{}, nil
}

func (d *Dispatcher) handleResourcesUnsubscribe(_ context.Context, req *mcprpc.Request, session *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	var params mcprpc.SubscribeResourceParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	d.unsubscribe(params.URI, session)
	return struct{}{}, nil
}

func (d *Dispatcher) handlePromptsList(context.Context, *mcprpc.Request, *base.Session, *progress.Operation) (interface{}, *mcprpc.Error) {
	return mcprpc.ListPromptsResult{Prompts: d.Registry.Prompts()}, nil
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, req *mcprpc.Request, _ *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	var params mcprpc.GetPromptParams
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	_, handler, ok := d.Registry.Prompt(params.Name)
	if !ok {
		return nil, mcprpc.NewPromptNotFound(req.Id, params.Name)
	}
	result, err := handler(ctx, params)
	if err != nil {
		return nil, mcprpc.NewInternalError(req.Id, err, nil)
	}
	return result, nil
}

func (d *Dispatcher) handleLoggingSetLevel(_ context.Context, req *mcprpc.Request, _ *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	var params struct {
		Level string `json:"level"`
	}
	if err := unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams(req.Id, err)
	}
	if d.setLogLevel != nil {
		d.setLogLevel(params.Level)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleCompletionComplete(ctx context.Context, req *mcprpc.Request, session *base.Session, _ *progress.Operation) (interface{}, *mcprpc.Error) {
	if d.CompletionHandler == nil {
		return nil, mcprpc.NewMethodNotFound(req.Id, fmt.Errorf("completion/complete not configured"), nil)
	}
	result, err := d.CompletionHandler(ctx, req.Params, session)
	if err != nil {
		return nil, mcprpc.NewInternalError(req.Id, err, nil)
	}
	return result, nil
}
