package toolset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

// StaticResource pairs a resource descriptor with its contents.
type StaticResource struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
}

// TextResource builds a static text resource.
func TextResource(uri, name, text string) StaticResource {
	return StaticResource{
		Descriptor: mcp.Resource{URI: uri, Name: name, MimeType: "text/plain"},
		Contents:   []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: text}},
	}
}

// Resources is an in-memory resource set implementing the engine's resource
// capability. Update replaces a resource's contents and fires the optional
// update callback so the owner can push a resources/updated notification.
type Resources struct {
	mu   sync.RWMutex
	byID map[string]StaticResource

	onUpdate      UpdateFunc
	onListChanged ListChangedFunc
}

// NewResources builds a resource set from the given resources.
func NewResources(defs ...StaticResource) *Resources {
	r := &Resources{byID: make(map[string]StaticResource, len(defs))}
	for _, d := range defs {
		r.byID[d.Descriptor.URI] = d
	}
	return r
}

// OnResourceUpdate registers the callback fired after Update.
func (r *Resources) OnResourceUpdate(fn UpdateFunc) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

// OnResourceListChanged registers the callback fired after Put or Remove.
func (r *Resources) OnResourceListChanged(fn ListChangedFunc) {
	r.mu.Lock()
	r.onListChanged = fn
	r.mu.Unlock()
}

// ListResources returns descriptors sorted by URI.
func (r *Resources) ListResources(ctx context.Context) []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ReadResource returns the contents for uri.
func (r *Resources) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	r.mu.RLock()
	d, ok := r.byID[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
	}
	return &mcp.ReadResourceResult{Contents: append([]mcp.ResourceContents(nil), d.Contents...)}, nil
}

// Update replaces the contents of an existing resource and fires the
// update callback. It reports false when the URI is unknown.
func (r *Resources) Update(ctx context.Context, uri string, contents []mcp.ResourceContents) bool {
	r.mu.Lock()
	d, ok := r.byID[uri]
	if ok {
		d.Contents = append([]mcp.ResourceContents(nil), contents...)
		r.byID[uri] = d
	}
	fn := r.onUpdate
	r.mu.Unlock()

	if !ok {
		return false
	}
	if fn != nil {
		fn(ctx, uri)
	}
	return true
}

// Put adds or replaces a resource and fires the list-changed callback.
func (r *Resources) Put(ctx context.Context, res StaticResource) {
	r.mu.Lock()
	r.byID[res.Descriptor.URI] = res
	fn := r.onListChanged
	r.mu.Unlock()

	if fn != nil {
		fn(ctx)
	}
}

// Remove drops a resource by URI and fires the list-changed callback when
// something was removed.
func (r *Resources) Remove(ctx context.Context, uri string) bool {
	r.mu.Lock()
	_, ok := r.byID[uri]
	delete(r.byID, uri)
	fn := r.onListChanged
	r.mu.Unlock()

	if !ok {
		return false
	}
	if fn != nil {
		fn(ctx)
	}
	return true
}
