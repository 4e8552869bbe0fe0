package props

import (
	"context"
	"sync"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// Memory is the process local property store. State is lost on
// restart.
type Memory struct {
	mu   sync.Mutex
	data map[normpath.Path]map[propKey]fs.DavProp
}

// propKey identifies a property within one path.
type propKey struct {
	namespace string
	name      string
}

func keyOf(prop fs.DavProp) propKey {
	return propKey{namespace: prop.Namespace, name: prop.Name}
}

// NewMemory makes an empty in-memory property store.
func NewMemory() *Memory {
	return &Memory{data: make(map[normpath.Path]map[propKey]fs.DavProp)}
}

// HaveProps reports whether path carries any property.
func (m *Memory) HaveProps(ctx context.Context, path normpath.Path) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[path]) > 0
}

// PatchProp sets or removes one property.
func (m *Memory) PatchProp(ctx context.Context, path normpath.Path, patch fs.PropPatch) (fs.PropStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchLocked(path, patch)
	return fs.PropStat{Status: statusOK, Prop: patch.Prop}, nil
}

func (m *Memory) patchLocked(path normpath.Path, patch fs.PropPatch) {
	k := keyOf(patch.Prop)
	if patch.Set {
		byKey := m.data[path]
		if byKey == nil {
			byKey = make(map[propKey]fs.DavProp)
			m.data[path] = byKey
		}
		byKey[k] = patch.Prop
		return
	}
	if byKey := m.data[path]; byKey != nil {
		delete(byKey, k)
		if len(byKey) == 0 {
			delete(m.data, path)
		}
	}
}

// GetProp returns the payload of one property or fs.ErrorNotFound.
func (m *Memory) GetProp(ctx context.Context, path normpath.Path, prop fs.DavProp) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := m.data[path]
	if byKey == nil {
		return nil, fs.ErrorNotFound
	}
	p, ok := byKey[keyOf(prop)]
	if !ok {
		return nil, fs.ErrorNotFound
	}
	return p.XML, nil
}

// GetProps returns the properties at or below path.
func (m *Memory) GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]fs.DavProp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fs.DavProp
	for p, byKey := range m.data {
		if !hasPathPrefix(p, path) {
			continue
		}
		for _, prop := range byKey {
			if !withXML {
				prop.XML = nil
			}
			out = append(out, prop)
		}
	}
	return out, nil
}

// RemoveFile drops the properties of one resource.
func (m *Memory) RemoveFile(ctx context.Context, path normpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, path)
	return nil
}

// RemoveDir drops the properties at or below path.
func (m *Memory) RemoveDir(ctx context.Context, path normpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.data {
		if hasPathPrefix(p, path) {
			delete(m.data, p)
		}
	}
	return nil
}

// Rename moves properties to the mirrored destination paths.
func (m *Memory) Rename(ctx context.Context, from, to normpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := make(map[normpath.Path]map[propKey]fs.DavProp)
	for p, byKey := range m.data {
		np := rewrite(p, from, to)
		if np != p {
			moved[np] = byKey
			delete(m.data, p)
		}
	}
	for p, byKey := range moved {
		m.data[p] = byKey
	}
	return nil
}

// Copy duplicates properties at the mirrored destination paths.
func (m *Memory) Copy(ctx context.Context, from, to normpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, byKey := range m.data {
		np := rewrite(p, from, to)
		if np == p {
			continue
		}
		dst := make(map[propKey]fs.DavProp, len(byKey))
		for k, v := range byKey {
			dst[k] = v
		}
		m.data[np] = dst
	}
	return nil
}

// snapshot returns a flat copy of all properties for serialization.
func (m *Memory) snapshot() map[normpath.Path][]fs.DavProp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[normpath.Path][]fs.DavProp, len(m.data))
	for p, byKey := range m.data {
		for _, prop := range byKey {
			out[p] = append(out[p], prop)
		}
	}
	return out
}

// hasPathPrefix reports whether p lives at or below base. A resource
// base is read in collection form, so it matches itself and the paths
// below it.
func hasPathPrefix(p, base normpath.Path) bool {
	if p == base {
		return true
	}
	if base.IsRoot() {
		return true
	}
	return p.StripPrefix(base.AsDir()) != p
}

var _ Store = (*Memory)(nil)
