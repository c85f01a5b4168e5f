package toolset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

// PromptHandler renders a prompt from its validated arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its renderer.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// Prompts is a threadsafe set of static prompts implementing the engine's
// prompt capability. Required arguments declared on the descriptor are
// validated before the handler runs.
type Prompts struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler
}

// NewPrompts builds a prompt set, sorted by name.
func NewPrompts(defs ...StaticPrompt) *Prompts {
	p := &Prompts{handlers: make(map[string]PromptHandler, len(defs))}
	for _, d := range defs {
		if _, dup := p.handlers[d.Descriptor.Name]; !dup {
			p.prompts = append(p.prompts, d.Descriptor)
		}
		p.handlers[d.Descriptor.Name] = d.Handler
	}
	sort.Slice(p.prompts, func(i, j int) bool { return p.prompts[i].Name < p.prompts[j].Name })
	return p
}

// ListPrompts returns a snapshot of the descriptors in name order.
func (p *Prompts) ListPrompts(ctx context.Context) []mcp.Prompt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]mcp.Prompt, len(p.prompts))
	copy(out, p.prompts)
	return out
}

// GetPrompt validates required arguments and renders the named prompt.
func (p *Prompts) GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	p.mu.RLock()
	h := p.handlers[req.Name]
	var desc *mcp.Prompt
	for i := range p.prompts {
		if p.prompts[i].Name == req.Name {
			desc = &p.prompts[i]
			break
		}
	}
	p.mu.RUnlock()

	if h == nil || desc == nil {
		return nil, fmt.Errorf("prompt %q: %w", req.Name, engine.ErrNotFound)
	}
	for _, arg := range desc.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := req.Arguments[arg.Name]; !ok {
			return nil, fmt.Errorf("prompt %q requires argument %q: %w", req.Name, arg.Name, engine.ErrInvalidParams)
		}
	}
	return h(ctx, req.Arguments)
}

// TextPrompt builds a single-message prompt that substitutes no arguments.
func TextPrompt(name, description, text string) StaticPrompt {
	return StaticPrompt{
		Descriptor: mcp.Prompt{Name: name, Description: description},
		Handler: func(ctx context.Context, _ map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: description,
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: []mcp.ContentBlock{mcp.TextContent(text)},
				}},
			}, nil
		},
	}
}
