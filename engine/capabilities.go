package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcplane/mcplane-go/mcp"
)

// Sentinel errors collaborators raise to drive the protocol error taxonomy.
// The dispatcher translates ErrNotFound to MethodNotFound and
// ErrInvalidParams to InvalidParams; any other failure becomes
// InternalError with the original message kept as diagnostic data.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidParams = errors.New("invalid params")
)

// ToolCapability is the tool surface of the function-registry collaborator.
type ToolCapability interface {
	// ListTools returns every tool in a stable order.
	ListTools(ctx context.Context) []mcp.Tool

	// CallTool invokes the named tool. Unknown names wrap ErrNotFound;
	// argument rejections wrap ErrInvalidParams.
	CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// PromptCapability is the prompt surface of the collaborator.
type PromptCapability interface {
	ListPrompts(ctx context.Context) []mcp.Prompt
	GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
}

// ResourceCapability is the resource surface of the collaborator.
type ResourceCapability interface {
	ListResources(ctx context.Context) []mcp.Resource

	// ReadResource returns the contents of the resource at uri. Unknown URIs
	// wrap ErrNotFound.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
}

// Function is one directly registered callable, reachable by exact method
// name after every built-in protocol method has declined.
type Function interface {
	Definition() mcp.FunctionDefinition
	Invoke(ctx context.Context, params json.RawMessage) (any, error)
}

// FunctionRegistry resolves registered functions by name. It is built
// explicitly at startup; there is no runtime discovery.
type FunctionRegistry interface {
	Lookup(name string) (Function, bool)
	ListAll() []mcp.FunctionDefinition
}

// FunctionMap is a trivial FunctionRegistry over a map.
type FunctionMap map[string]Function

func (m FunctionMap) Lookup(name string) (Function, bool) {
	fn, ok := m[name]
	return fn, ok
}

func (m FunctionMap) ListAll() []mcp.FunctionDefinition {
	out := make([]mcp.FunctionDefinition, 0, len(m))
	for _, fn := range m {
		out = append(out, fn.Definition())
	}
	return out
}

// FunctionFunc adapts a definition and a handler into a Function.
type FunctionFunc struct {
	Def     mcp.FunctionDefinition
	Handler func(ctx context.Context, params json.RawMessage) (any, error)
}

func (f FunctionFunc) Definition() mcp.FunctionDefinition { return f.Def }

func (f FunctionFunc) Invoke(ctx context.Context, params json.RawMessage) (any, error) {
	return f.Handler(ctx, params)
}
