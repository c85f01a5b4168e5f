package toolset

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

// UpdateFunc is invoked with a resource URI when its content changes.
// ListChangedFunc is invoked when the set of resources changes. Both are
// typically wired to the engine's notifier.
type (
	UpdateFunc      func(ctx context.Context, uri string)
	ListChangedFunc func(ctx context.Context)
)

// FSResources exposes a slice of a filesystem as resources. It wraps either
// an OS directory (preferred: symlink escapes are detected and rejected) or
// a generic fs.FS such as embed.FS (symlinks are skipped, parent traversal
// is rejected).
//
// When Watch is running on an OS-backed root, file writes invoke the
// configured UpdateFunc per URI with debouncing, and add/remove events
// invoke the ListChangedFunc. Generic fs.FS roots fall back to polling.
type FSResources struct {
	fsys   fs.FS
	osRoot string // absolute, symlink-resolved root on disk, empty for generic fs.FS

	baseURI      string
	pollInterval time.Duration
	debounce     time.Duration
	log          *slog.Logger

	onUpdate      UpdateFunc
	onListChanged ListChangedFunc

	mu         sync.Mutex
	debouncers map[string]*time.Timer
}

// FSOption configures FSResources.
type FSOption func(*FSResources)

// WithOSDir roots the resources at an OS directory. Symlinks under the root
// are resolved and reads outside the resolved root are rejected.
func WithOSDir(root string) FSOption {
	return func(r *FSResources) {
		if !filepath.IsAbs(root) {
			if abs, err := filepath.Abs(root); err == nil {
				root = abs
			}
		}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		r.osRoot = root
		r.fsys = os.DirFS(root)
	}
}

// WithFS roots the resources at a generic fs.FS.
func WithFS(f fs.FS) FSOption {
	return func(r *FSResources) { r.fsys = f; r.osRoot = "" }
}

// WithBaseURI sets the URI prefix for listed resources, e.g. "fs://docs".
// Defaults to "fs:/".
func WithBaseURI(base string) FSOption {
	return func(r *FSResources) { r.baseURI = strings.TrimRight(base, "/") }
}

// WithPollInterval sets the poll interval used when fsnotify is unavailable
// (generic fs.FS roots). Defaults to 5s.
func WithPollInterval(d time.Duration) FSOption {
	return func(r *FSResources) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithUpdateDebounce sets the quiet period collapsing bursts of writes to
// one update per URI. Zero disables debouncing.
func WithUpdateDebounce(d time.Duration) FSOption {
	return func(r *FSResources) { r.debounce = d }
}

// WithWatchLogger sets the logger used by the watcher goroutine.
func WithWatchLogger(l *slog.Logger) FSOption {
	return func(r *FSResources) {
		if l != nil {
			r.log = l
		}
	}
}

// OnUpdate sets the callback fired when a resource's content changes.
func OnUpdate(fn UpdateFunc) FSOption {
	return func(r *FSResources) { r.onUpdate = fn }
}

// OnListChanged sets the callback fired when resources appear or vanish.
func OnListChanged(fn ListChangedFunc) FSOption {
	return func(r *FSResources) { r.onListChanged = fn }
}

// NewFSResources builds a filesystem-backed resource capability.
func NewFSResources(opts ...FSOption) *FSResources {
	r := &FSResources{
		baseURI:      "fs:/",
		pollInterval: 5 * time.Second,
		debounce:     250 * time.Millisecond,
		log:          slog.Default(),
		debouncers:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListResources walks the root and returns every regular file as a
// resource, sorted by URI.
func (r *FSResources) ListResources(ctx context.Context) []mcp.Resource {
	if r.fsys == nil {
		return nil
	}
	var out []mcp.Resource
	_ = fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isSymlink(d) || !validFSPath(p) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out = append(out, mcp.Resource{
			URI:      r.relToURI(p),
			Name:     path.Base(p),
			MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(p))),
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ReadResource resolves the URI under the root and returns its contents,
// text when valid UTF-8 and base64 otherwise. Unknown or escaping URIs are
// indistinguishable: both report not found.
func (r *FSResources) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	rel, ok := r.uriToRel(uri)
	if !ok || r.fsys == nil {
		return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
	}

	var data []byte
	var mt string
	if r.osRoot != "" {
		abs := filepath.Join(r.osRoot, filepath.FromSlash(rel))
		real, err := filepath.EvalSymlinks(abs)
		if err != nil || !within(real, r.osRoot) {
			return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
		}
		data, err = os.ReadFile(real)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
		}
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(real)))
	} else {
		if !validFSPath(rel) {
			return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
		}
		var err error
		data, err = fs.ReadFile(r.fsys, rel)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", uri, engine.ErrNotFound)
		}
		mt = mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
	}

	if mt == "" {
		mt = "application/octet-stream"
	}
	contents := mcp.ResourceContents{URI: uri, MimeType: mt}
	if utf8.Valid(data) {
		contents.Text = string(data)
	} else {
		contents.Blob = base64.StdEncoding.EncodeToString(data)
	}
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
}

// Watch observes the root for changes until ctx is cancelled, firing the
// configured callbacks. OS-backed roots use fsnotify; generic roots poll.
// Watch blocks, so run it in its own goroutine.
func (r *FSResources) Watch(ctx context.Context) error {
	if r.osRoot != "" {
		return r.watchFsnotify(ctx)
	}
	return r.watchPolling(ctx)
}

func (r *FSResources) watchFsnotify(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	err = filepath.WalkDir(r.osRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		r.log.Warn("watch add dirs failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
				r.fireListChanged(ctx)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				r.fireListChanged(ctx)
			}
			if ev.Op&fsnotify.Write != 0 {
				if uri, ok := r.osPathToURI(ev.Name); ok {
					r.fireUpdated(ctx, uri)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watch error", slog.Any("error", err))
		}
	}
}

func (r *FSResources) watchPolling(ctx context.Context) error {
	last := r.snapshot(ctx)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur := r.snapshot(ctx)
			listChanged := false
			for p, meta := range cur {
				prev, existed := last[p]
				switch {
				case !existed:
					listChanged = true
				case prev != meta:
					r.fireUpdated(ctx, r.relToURI(p))
				}
			}
			for p := range last {
				if _, ok := cur[p]; !ok {
					listChanged = true
				}
			}
			if listChanged {
				r.fireListChanged(ctx)
			}
			last = cur
		}
	}
}

type fileMeta struct {
	size    int64
	modUnix int64
}

func (r *FSResources) snapshot(ctx context.Context) map[string]fileMeta {
	out := make(map[string]fileMeta)
	if r.fsys == nil {
		return out
	}
	_ = fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isSymlink(d) || !validFSPath(p) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info, e := d.Info(); e == nil {
			out[p] = fileMeta{size: info.Size(), modUnix: info.ModTime().UnixNano()}
		}
		return nil
	})
	return out
}

func (r *FSResources) fireListChanged(ctx context.Context) {
	if r.onListChanged != nil {
		r.onListChanged(ctx)
	}
}

// fireUpdated collapses write bursts into one callback per URI per quiet
// period.
func (r *FSResources) fireUpdated(ctx context.Context, uri string) {
	if r.onUpdate == nil {
		return
	}
	if r.debounce <= 0 {
		r.onUpdate(ctx, uri)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.debouncers[uri]; ok {
		t.Reset(r.debounce)
		return
	}
	r.debouncers[uri] = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		delete(r.debouncers, uri)
		r.mu.Unlock()
		r.onUpdate(context.WithoutCancel(ctx), uri)
	})
}

func (r *FSResources) osPathToURI(p string) (string, bool) {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if !within(p, r.osRoot) {
		return "", false
	}
	rel, err := filepath.Rel(r.osRoot, p)
	if err != nil {
		return "", false
	}
	return r.relToURI(filepath.ToSlash(rel)), true
}

func (r *FSResources) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.baseURI + "/" + strings.Join(segs, "/")
}

func (r *FSResources) uriToRel(uri string) (string, bool) {
	base := r.baseURI + "/"
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	segs := strings.Split(strings.TrimPrefix(uri, base), "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func isSymlink(d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink != 0 {
		return true
	}
	if info, err := d.Info(); err == nil {
		return info.Mode()&fs.ModeSymlink != 0
	}
	return false
}

func validFSPath(p string) bool {
	// fs.ValidPath rejects unclean paths, leading slashes and ".." segments.
	// Colons are rejected too so Windows volume prefixes cannot sneak in.
	return fs.ValidPath(p) && !strings.Contains(p, ":")
}

// within reports whether target equals root or sits beneath it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
