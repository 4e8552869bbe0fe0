// Package aggregate combines several backends into one tree, each
// mounted at a URL prefix. Requests are routed to the backend owning
// the longest matching ancestor prefix, and ancestor directories
// covering mount prefixes are synthesized so a mount at /a/b is
// reachable by walking down from /.
//
// The aggregate also owns the dead property store: property calls are
// keyed by the full request path, and mutating filesystem operations
// trigger the matching property hooks so properties follow their
// paths. A property failure after a successful filesystem mutation is
// logged and not rolled back.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
	"github.com/khooj/webdav-ss/props"
)

// syntheticSize is the reported size of synthesized ancestor
// directories.
const syntheticSize = 4096

// Aggregate is the mount point router. The mount table is read only
// after Build.
type Aggregate struct {
	routes map[string]fs.Backend // "/prefix" -> backend
	props  props.Store
	when   time.Time // timestamps of synthetic directories
}

// String converts this Aggregate to a string
func (a *Aggregate) String() string {
	prefixes := make([]string, 0, len(a.routes))
	for p := range a.routes {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return fmt.Sprintf("aggregate [%s]", strings.Join(prefixes, " "))
}

// Builder collects routes before the mount table is frozen.
type Builder struct {
	agg *Aggregate
	err error
}

// NewBuilder starts a builder owning the given property store.
func NewBuilder(store props.Store) *Builder {
	return &Builder{
		agg: &Aggregate{
			routes: make(map[string]fs.Backend),
			props:  store,
			when:   time.Now(),
		},
	}
}

// normalizePrefix brings a mount path to the canonical "/a/b" form.
func normalizePrefix(prefix string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	return prefix
}

// AddRoute mounts backend at prefix. Prefixes must be unique;
// registration order is insignificant.
func (b *Builder) AddRoute(prefix string, backend fs.Backend) *Builder {
	if b.err != nil {
		return b
	}
	prefix = normalizePrefix(prefix)
	if _, ok := b.agg.routes[prefix]; ok {
		b.err = fmt.Errorf("aggregate already contains route %q", prefix)
		return b
	}
	b.agg.routes[prefix] = backend
	return b
}

// Build freezes the mount table.
func (b *Builder) Build() (*Aggregate, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.agg.routes) == 0 {
		return nil, fmt.Errorf("aggregate needs at least one route")
	}
	return b.agg, nil
}

// absolute renders path in "/a/b" form without the collection slash.
func absolute(path normpath.Path) string {
	if path.IsRoot() {
		return "/"
	}
	return "/" + string(path.AsFile())
}

// ancestorsOf yields abs and its ancestors, deepest first, ending with
// "/".
func ancestorsOf(abs string) []string {
	out := []string{abs}
	for abs != "/" {
		i := strings.LastIndex(abs, "/")
		if i <= 0 {
			abs = "/"
		} else {
			abs = abs[:i]
		}
		out = append(out, abs)
	}
	return out
}

// findRoute resolves path to the backend mounted at its deepest
// matching ancestor and the path relative to that mount. The relative
// path always begins at the mount root and keeps the collection bit.
func (a *Aggregate) findRoute(path normpath.Path) (fs.Backend, normpath.Path, error) {
	abs := absolute(path)
	for _, ancestor := range ancestorsOf(abs) {
		backend, ok := a.routes[ancestor]
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(abs, ancestor)
		rel = "/" + strings.TrimPrefix(rel, "/")
		relPath := normpath.FromDav(rel, path.IsCollection())
		fs.Debugf(a, "route %q -> mount %q rel %q", path, ancestor, relPath)
		return backend, relPath, nil
	}
	return nil, "", fs.ErrorNotFound
}

// findRoutesAtLevel returns the first hop child segments of the mount
// prefixes below level. These name the ancestor directories that have
// to be synthesized at level.
func (a *Aggregate) findRoutesAtLevel(level normpath.Path) []string {
	lvl := absolute(level.AsDir())
	if lvl != "/" {
		lvl += "/"
	}
	seen := make(map[string]struct{})
	var segments []string
	for prefix := range a.routes {
		withSlash := prefix + "/"
		if !strings.HasPrefix(withSlash, lvl) || withSlash == lvl {
			continue
		}
		rest := prefix[len(lvl):]
		segment := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			segment = rest[:i]
		}
		if segment == "" {
			continue
		}
		if _, ok := seen[segment]; !ok {
			seen[segment] = struct{}{}
			segments = append(segments, segment)
		}
	}
	sort.Strings(segments)
	return segments
}

// syntheticMetadata describes a virtual ancestor directory.
func (a *Aggregate) syntheticMetadata(path normpath.Path) *fs.Metadata {
	return &fs.Metadata{
		Path:     path.AsDir(),
		Len:      syntheticSize,
		Modified: a.when,
		Created:  a.when,
		IsDir:    true,
	}
}

// Open routes the open to the owning backend.
func (a *Aggregate) Open(ctx context.Context, path normpath.Path, opts fs.OpenOptions) (fs.FileHandle, error) {
	backend, rel, err := a.findRoute(path)
	if err != nil {
		return nil, err
	}
	return backend.Open(ctx, rel, opts)
}

// ReadDir lists the backend entries at path followed by the synthetic
// entries for mounts attached below path.
func (a *Aggregate) ReadDir(ctx context.Context, path normpath.Path) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	var backendErr error

	backend, rel, err := a.findRoute(path)
	if err == nil {
		entries, backendErr = backend.ReadDir(ctx, rel)
	} else {
		backendErr = err
	}

	synthetic := a.findRoutesAtLevel(path)
	if backendErr != nil {
		if len(synthetic) == 0 {
			return nil, backendErr
		}
		fs.Debugf(a, "no backend listing for %q, synthesizing only: %v", path, backendErr)
		entries = nil
	}
	for _, segment := range synthetic {
		entries = append(entries, fs.DirEntry{
			Name: segment + "/",
			Meta: a.syntheticMetadata(path.AsDir().JoinDir(segment)),
		})
	}
	return entries, nil
}

// Metadata resolves path, synthesizing virtual directory metadata for
// the mount space root and for ancestors of mount prefixes that no
// backend covers.
func (a *Aggregate) Metadata(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	if path.IsRoot() {
		return a.syntheticMetadata(path), nil
	}
	backend, rel, err := a.findRoute(path)
	if err != nil {
		if len(a.findRoutesAtLevel(path)) > 0 {
			return a.syntheticMetadata(path), nil
		}
		return nil, err
	}
	return backend.Metadata(ctx, rel)
}

// CreateDir routes the create to the owning backend.
func (a *Aggregate) CreateDir(ctx context.Context, path normpath.Path) error {
	backend, rel, err := a.findRoute(path)
	if err != nil {
		return err
	}
	return backend.CreateDir(ctx, rel)
}

// RemoveFile removes the resource and drops its properties.
func (a *Aggregate) RemoveFile(ctx context.Context, path normpath.Path) error {
	backend, rel, err := a.findRoute(path)
	if err != nil {
		return err
	}
	if err := backend.RemoveFile(ctx, rel); err != nil {
		return err
	}
	if err := a.props.RemoveFile(ctx, path); err != nil {
		fs.Errorf(a, "failed to remove props for %q: %v", path, err)
	}
	return nil
}

// RemoveDir removes the collection and drops its properties.
func (a *Aggregate) RemoveDir(ctx context.Context, path normpath.Path) error {
	backend, rel, err := a.findRoute(path)
	if err != nil {
		return err
	}
	if err := backend.RemoveDir(ctx, rel); err != nil {
		return err
	}
	if err := a.props.RemoveDir(ctx, path); err != nil {
		fs.Errorf(a, "failed to remove props for %q: %v", path, err)
	}
	return nil
}

// Rename moves from to to within one mount and moves the properties
// along.
func (a *Aggregate) Rename(ctx context.Context, from, to normpath.Path) error {
	backend, relFrom, err := a.findRoute(from)
	if err != nil {
		return err
	}
	dstBackend, relTo, err := a.findRoute(to)
	if err != nil {
		return err
	}
	if dstBackend != backend {
		return fmt.Errorf("cannot rename across mounts: %q -> %q", from, to)
	}
	if err := backend.Rename(ctx, relFrom, relTo); err != nil {
		return err
	}
	if err := a.props.Rename(ctx, from, to); err != nil {
		fs.Errorf(a, "failed to move props %q -> %q: %v", from, to, err)
	}
	return nil
}

// Copy copies from to to within one mount and copies the properties
// along.
func (a *Aggregate) Copy(ctx context.Context, from, to normpath.Path) error {
	backend, relFrom, err := a.findRoute(from)
	if err != nil {
		return err
	}
	dstBackend, relTo, err := a.findRoute(to)
	if err != nil {
		return err
	}
	if dstBackend != backend {
		return fmt.Errorf("cannot copy across mounts: %q -> %q", from, to)
	}
	if err := backend.Copy(ctx, relFrom, relTo); err != nil {
		return err
	}
	if err := a.props.Copy(ctx, from, to); err != nil {
		fs.Errorf(a, "failed to copy props %q -> %q: %v", from, to, err)
	}
	return nil
}

// HaveProps consults the property store.
func (a *Aggregate) HaveProps(ctx context.Context, path normpath.Path) bool {
	return a.props.HaveProps(ctx, path)
}

// PatchProps applies each patch in order, reporting per patch status.
func (a *Aggregate) PatchProps(ctx context.Context, path normpath.Path, patch []fs.PropPatch) ([]fs.PropStat, error) {
	out := make([]fs.PropStat, 0, len(patch))
	for _, p := range patch {
		stat, err := a.props.PatchProp(ctx, path, p)
		if err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, nil
}

// GetProp returns the payload of one property.
func (a *Aggregate) GetProp(ctx context.Context, path normpath.Path, prop fs.DavProp) ([]byte, error) {
	return a.props.GetProp(ctx, path, prop)
}

// GetProps returns the properties at or below path.
func (a *Aggregate) GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]fs.DavProp, error) {
	return a.props.GetProps(ctx, path, withXML)
}

// Check the interfaces are satisfied
var (
	_ fs.Backend     = (*Aggregate)(nil)
	_ fs.PropManager = (*Aggregate)(nil)
)
