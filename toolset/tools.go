// Package toolset provides ready-made capability implementations for the
// engine: typed static tools with reflected input schemas, static prompts,
// and filesystem-backed resources with change watching.
package toolset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

// ToolHandler handles one tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	capabilities              mcp.TransportCapability
	allowAdditionalProperties bool // default false (strict)
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithTransportCapabilities marks the transports a tool requires, e.g. a
// tool that streams partial output needs CapTextStreaming.
func WithTransportCapabilities(caps mcp.TransportCapability) ToolOption {
	return func(c *toolConfig) { c.capabilities = caps }
}

// WithAllowAdditionalProperties relaxes argument decoding. When false (the
// default) the generated schema sets additionalProperties=false and unknown
// fields are rejected at call time.
func WithAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a StaticTool from a typed argument struct A. The input
// schema is reflected from A, and arguments are decoded into A at call
// time, strictly unless configured otherwise. Malformed arguments produce
// an IsError result rather than a protocol error, so the caller sees the
// decode failure as tool output.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error), opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:         name,
		Description:  cfg.description,
		InputSchema:  reflectInputSchema[A](cfg.allowAdditionalProperties),
		Capabilities: cfg.capabilities,
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		return fn(ctx, a)
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// Toolset owns a mutable, threadsafe set of tools and implements the
// engine's tool capability. An optional change handler fires after every
// mutation so the owner can push a list-changed notification.
type Toolset struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	onChange func(context.Context)
}

// NewToolset builds a Toolset from the given tools, sorted by name.
func NewToolset(defs ...StaticTool) *Toolset {
	ts := &Toolset{}
	ts.Replace(context.Background(), defs...)
	return ts
}

// OnListChanged registers the handler invoked after every mutation of the
// tool set. At most one handler is supported; later calls replace it.
func (ts *Toolset) OnListChanged(fn func(context.Context)) {
	ts.mu.Lock()
	ts.onChange = fn
	ts.mu.Unlock()
}

// Replace atomically swaps the entire tool set. Duplicate names resolve
// last-write-wins.
func (ts *Toolset) Replace(ctx context.Context, defs ...StaticTool) {
	ts.mu.Lock()
	ts.tools = make([]mcp.Tool, 0, len(defs))
	ts.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		if _, dup := ts.handlers[d.Descriptor.Name]; !dup {
			ts.tools = append(ts.tools, d.Descriptor)
		}
		ts.handlers[d.Descriptor.Name] = d.Handler
	}
	sort.Slice(ts.tools, func(i, j int) bool { return ts.tools[i].Name < ts.tools[j].Name })
	fn := ts.onChange
	ts.mu.Unlock()

	if fn != nil {
		fn(ctx)
	}
}

// Add registers a tool. It reports false when the name is already taken.
func (ts *Toolset) Add(ctx context.Context, def StaticTool) bool {
	ts.mu.Lock()
	if _, exists := ts.handlers[def.Descriptor.Name]; exists {
		ts.mu.Unlock()
		return false
	}
	ts.tools = append(ts.tools, def.Descriptor)
	sort.Slice(ts.tools, func(i, j int) bool { return ts.tools[i].Name < ts.tools[j].Name })
	ts.handlers[def.Descriptor.Name] = def.Handler
	fn := ts.onChange
	ts.mu.Unlock()

	if fn != nil {
		fn(ctx)
	}
	return true
}

// Remove drops a tool by name. It reports whether anything was removed.
func (ts *Toolset) Remove(ctx context.Context, name string) bool {
	ts.mu.Lock()
	if _, exists := ts.handlers[name]; !exists {
		ts.mu.Unlock()
		return false
	}
	delete(ts.handlers, name)
	n := 0
	for _, t := range ts.tools {
		if t.Name != name {
			ts.tools[n] = t
			n++
		}
	}
	ts.tools = ts.tools[:n]
	fn := ts.onChange
	ts.mu.Unlock()

	if fn != nil {
		fn(ctx)
	}
	return true
}

// ListTools returns a snapshot of the descriptors in name order.
func (ts *Toolset) ListTools(ctx context.Context) []mcp.Tool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]mcp.Tool, len(ts.tools))
	copy(out, ts.tools)
	return out
}

// CallTool dispatches to the named tool's handler.
func (ts *Toolset) CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts.mu.RLock()
	h := ts.handlers[req.Name]
	ts.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("tool %q: %w", req.Name, engine.ErrNotFound)
	}
	return h(ctx, req)
}

// TextResult builds a single-text-block success result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(s)}}
}

// Errorf builds an IsError result with a single text block. Tool-level
// failures travel as results so the caller can surface them to the model;
// protocol errors are reserved for dispatch failures.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(fmt.Sprintf(format, a...))},
		IsError: true,
	}
}
