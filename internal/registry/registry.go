// Package registry holds the tools, resources, and prompts a server
// exposes, matching incoming lookups by exact name/URI or, for resources,
// by URI template.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	mcprpc "github.com/openmcp-run/mcpcore"
)

// ToolHandler implements a registered tool's behavior. The dispatcher attaches
// the in-flight *progress.Operation to ctx (see progress.FromContext); a
// long-running handler should check op.Cancel.Cancelled() at its own safe
// points and call op.Report(...) to emit progress, when Tool.SupportsProgress
// or Tool.SupportsCancellation advertise that it does so.
type ToolHandler func(ctx context.Context, params mcprpc.CallToolParams) (*mcprpc.CallToolResult, error)

// ResourceHandler serves a registered resource or resource-template match.
// pathParams holds values extracted from a template's "{var}" segments,
// empty for a static resource. Like ToolHandler, the operation reachable via
// progress.FromContext(ctx) carries this call's cancellation token.
type ResourceHandler func(ctx context.Context, uri string, pathParams map[string]string) (*mcprpc.ReadResourceResult, error)

// PromptHandler renders a registered prompt template.
type PromptHandler func(ctx context.Context, params mcprpc.GetPromptParams) (*mcprpc.GetPromptResult, error)

// ChangeNotifier is invoked when a registry category changes, so the facade
// can emit the matching "notifications/*/list_changed" message.
type ChangeNotifier func(category string)

type toolEntry struct {
	tool    mcprpc.Tool
	handler ToolHandler
}

type resourceEntry struct {
	resource mcprpc.Resource
	handler  ResourceHandler
}

type templateEntry struct {
	template mcprpc.ResourceTemplate
	segments []segment
	handler  ResourceHandler
}

type promptEntry struct {
	prompt  mcprpc.Prompt
	handler PromptHandler
}

// Registry holds tools, resources (static and templated), and prompts.
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*toolEntry
	resources map[string]*resourceEntry
	templates map[string]*templateEntry
	prompts   map[string]*promptEntry

	OnChange ChangeNotifier
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tools:     map[string]*toolEntry{},
		resources: map[string]*resourceEntry{},
		templates: map[string]*templateEntry{},
		prompts:   map[string]*promptEntry{},
	}
}

func (r *Registry) notify(category string) {
	if r.OnChange != nil {
		r.OnChange(category)
	}
}

// RegisterTool adds or replaces a tool by name.
func (r *Registry) RegisterTool(tool mcprpc.Tool, handler ToolHandler) {
	r.mu.Lock()
	r.tools[tool.Name] = &toolEntry{tool: tool, handler: handler}
	r.mu.Unlock()
	r.notify("tools")
}

// UnregisterTool removes a tool by name, if present.
func (r *Registry) UnregisterTool(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()
	if existed {
		r.notify("tools")
	}
}

// Tool looks up a tool by exact name.
func (r *Registry) Tool(name string) (mcprpc.Tool, ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return mcprpc.Tool{}, nil, false
	}
	return e.tool, e.handler, true
}

// Tools lists every registered tool, sorted by name for stable pagination.
func (r *Registry) Tools() []mcprpc.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcprpc.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterResource adds or replaces a static resource by URI.
func (r *Registry) RegisterResource(resource mcprpc.Resource, handler ResourceHandler) {
	r.mu.Lock()
	r.resources[resource.URI] = &resourceEntry{resource: resource, handler: handler}
	r.mu.Unlock()
	r.notify("resources")
}

// RegisterResourceTemplate adds or replaces a templated resource by its
// URI template string (e.g. "file:///{path}").
func (r *Registry) RegisterResourceTemplate(template mcprpc.ResourceTemplate, handler ResourceHandler) {
	r.mu.Lock()
	r.templates[template.URITemplate] = &templateEntry{
		template: template,
		segments: parseTemplate(template.URITemplate),
		handler:  handler,
	}
	r.mu.Unlock()
	r.notify("resources")
}

// UnregisterResource removes a static resource by URI, if present.
func (r *Registry) UnregisterResource(uri string) {
	r.mu.Lock()
	_, existed := r.resources[uri]
	delete(r.resources, uri)
	r.mu.Unlock()
	if existed {
		r.notify("resources")
	}
}

// Resources lists every static resource, sorted by URI.
func (r *Registry) Resources() []mcprpc.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcprpc.Resource, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, e.resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ResourceTemplates lists every registered resource template.
func (r *Registry) ResourceTemplates() []mcprpc.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcprpc.ResourceTemplate, 0, len(r.templates))
	for _, e := range r.templates {
		out = append(out, e.template)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URITemplate < out[j].URITemplate })
	return out
}

// MatchResource resolves uri against static resources first, then templates;
// a static match always wins over a template match for the same URI.
func (r *Registry) MatchResource(uri string) (ResourceHandler, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.resources[uri]; ok {
		return e.handler, nil, true
	}
	for _, e := range r.templates {
		if params, ok := matchTemplate(e.segments, uri); ok {
			return e.handler, params, true
		}
	}
	return nil, nil, false
}

// RegisterPrompt adds or replaces a prompt by name.
func (r *Registry) RegisterPrompt(prompt mcprpc.Prompt, handler PromptHandler) {
	r.mu.Lock()
	r.prompts[prompt.Name] = &promptEntry{prompt: prompt, handler: handler}
	r.mu.Unlock()
	r.notify("prompts")
}

// UnregisterPrompt removes a prompt by name, if present.
func (r *Registry) UnregisterPrompt(name string) {
	r.mu.Lock()
	_, existed := r.prompts[name]
	delete(r.prompts, name)
	r.mu.Unlock()
	if existed {
		r.notify("prompts")
	}
}

// Prompt looks up a prompt by exact name.
func (r *Registry) Prompt(name string) (mcprpc.Prompt, PromptHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.prompts[name]
	if !ok {
		return mcprpc.Prompt{}, nil, false
	}
	return e.prompt, e.handler, true
}

// Prompts lists every registered prompt, sorted by name.
func (r *Registry) Prompts() []mcprpc.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcprpc.Prompt, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, e.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// segment is one "/"-delimited piece of a URI template.
type segment struct {
	literal  string
	variable string // non-empty for a "{var}" segment
}

func parseTemplate(template string) []segment {
	parts := strings.Split(template, "/")
	segments := make([]segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") && len(p) > 2 {
			segments[i] = segment{variable: p[1 : len(p)-1]}
		} else {
			segments[i] = segment{literal: p}
		}
	}
	return segments
}

func matchTemplate(segments []segment, uri string) (map[string]string, bool) {
	parts := strings.Split(uri, "/")
	if len(parts) != len(segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range segments {
		if seg.variable != "" {
			if parts[i] == "" {
				return nil, false
			}
			params[seg.variable] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}
