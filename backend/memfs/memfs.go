// Package memfs provides an in memory backend. The object storage is
// process local and lost on restart; it exists for mounts that need
// scratch space and for exercising the aggregator without network.
package memfs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// objectData is the stored form of one resource.
type objectData struct {
	data []byte
	meta fs.Metadata
}

// Fs is an in memory backend.
type Fs struct {
	mu      sync.Mutex
	objects map[normpath.Path]*objectData // resource form keys
	dirs    map[normpath.Path]fs.Metadata // collection form keys
}

// NewFs makes an empty in memory backend with an existing root.
func NewFs() *Fs {
	f := &Fs{
		objects: make(map[normpath.Path]*objectData, 16),
		dirs:    make(map[normpath.Path]fs.Metadata, 16),
	}
	f.dirs[normpath.Root] = *fs.NewMetadata(normpath.Root, true)
	return f
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return "memory"
}

// lookup returns the metadata at path, preferring the collection
// interpretation. Call with the lock held.
func (f *Fs) lookup(path normpath.Path) (*fs.Metadata, bool) {
	if m, ok := f.dirs[path.AsDir()]; ok {
		return &m, true
	}
	if od, ok := f.objects[path.AsFile()]; ok {
		m := od.meta
		return &m, true
	}
	return nil, false
}

// Metadata probes path.
func (f *Fs) Metadata(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.lookup(path)
	if !ok {
		return nil, fs.ErrorNotFound
	}
	return m, nil
}

// ReadDir lists the collection at path.
func (f *Fs) ReadDir(ctx context.Context, path normpath.Path) ([]fs.DirEntry, error) {
	dir := path.AsDir()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[dir]; !ok {
		return nil, fs.ErrorNotFound
	}
	var entries []fs.DirEntry
	for p, od := range f.objects {
		if p.Parent() == dir {
			m := od.meta
			entries = append(entries, fs.DirEntry{Name: p.Name(), Meta: &m})
		}
	}
	for p, meta := range f.dirs {
		if p != dir && p.Parent() == dir {
			m := meta
			entries = append(entries, fs.DirEntry{Name: p.Name() + "/", Meta: &m})
		}
	}
	return entries, nil
}

// Open opens the resource at path.
func (f *Fs) Open(ctx context.Context, path normpath.Path, opts fs.OpenOptions) (fs.FileHandle, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.dirs[path.AsDir()]; ok {
		return nil, fs.ErrorForbidden
	}
	key := path.AsFile()
	od, exists := f.objects[key]
	if exists && opts.CreateNew {
		return nil, fs.ErrorExists
	}
	if !exists && !opts.Create {
		return nil, fs.ErrorNotFound
	}

	var buf []byte
	var meta fs.Metadata
	if exists && !opts.Truncate {
		buf = append([]byte(nil), od.data...)
		meta = od.meta
	} else {
		meta = *fs.NewMetadata(key, false)
		if exists {
			meta.Created = od.meta.Created
		}
	}
	h := &memFile{
		fs:   f,
		key:  key,
		data: buf,
		meta: meta,
	}
	if opts.Append {
		h.pos = int64(len(buf))
	}
	return h, nil
}

// CreateDir creates the collection at path.
func (f *Fs) CreateDir(ctx context.Context, path normpath.Path) error {
	dir := path.AsDir()
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir.IsRoot() {
		return nil
	}
	if _, ok := f.dirs[dir]; ok {
		return fs.ErrorExists
	}
	parent := dir.Parent()
	if _, ok := f.dirs[parent]; !ok {
		if _, isFile := f.objects[parent.AsFile()]; isFile {
			return fs.ErrorForbidden
		}
		return fs.ErrorNotFound
	}
	f.dirs[dir] = *fs.NewMetadata(dir, true)
	return nil
}

// RemoveFile removes the resource at path.
func (f *Fs) RemoveFile(ctx context.Context, path normpath.Path) error {
	key := path.AsFile()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[path.AsDir()]; ok {
		return fs.ErrorForbidden
	}
	if _, ok := f.objects[key]; !ok {
		return fs.ErrorNotFound
	}
	delete(f.objects, key)
	return nil
}

// RemoveDir removes the collection marker at path.
func (f *Fs) RemoveDir(ctx context.Context, path normpath.Path) error {
	dir := path.AsDir()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[dir]; !ok {
		if _, isFile := f.objects[path.AsFile()]; isFile {
			return fs.ErrorForbidden
		}
		return fs.ErrorNotFound
	}
	delete(f.dirs, dir)
	return nil
}

// Rename moves from to to, recursing into collections.
func (f *Fs) Rename(ctx context.Context, from, to normpath.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, isDir := f.dirs[from.AsDir()]; isDir {
		src, dst := from.AsDir(), to.AsDir()
		// clear anything in the way at the destination
		if _, ok := f.objects[to.AsFile()]; ok {
			delete(f.objects, to.AsFile())
		}
		f.removeTreeLocked(dst)
		for p, od := range f.objects {
			if rel := p.StripPrefix(src); rel != p {
				od.meta.Path = normpath.Path(string(dst) + string(rel))
				f.objects[od.meta.Path] = od
				delete(f.objects, p)
			}
		}
		for p, meta := range f.dirs {
			if p == src {
				continue
			}
			if rel := p.StripPrefix(src); rel != p {
				meta.Path = normpath.Path(string(dst) + string(rel))
				f.dirs[meta.Path] = meta
				delete(f.dirs, p)
			}
		}
		meta := f.dirs[src]
		meta.Path = dst
		f.dirs[dst] = meta
		delete(f.dirs, src)
		return nil
	}

	od, ok := f.objects[from.AsFile()]
	if !ok {
		return fs.ErrorNotFound
	}
	dst := to.AsFile()
	if _, isDir := f.dirs[to.AsDir()]; isDir {
		f.removeTreeLocked(to.AsDir())
	}
	od.meta.Path = dst
	f.objects[dst] = od
	delete(f.objects, from.AsFile())
	return nil
}

// removeTreeLocked drops a collection and everything below it.
func (f *Fs) removeTreeLocked(dir normpath.Path) {
	for p := range f.objects {
		if p.StripPrefix(dir) != p {
			delete(f.objects, p)
		}
	}
	for p := range f.dirs {
		if p == dir || p.StripPrefix(dir) != p {
			delete(f.dirs, p)
		}
	}
}

// Copy copies a single resource or collection marker.
func (f *Fs) Copy(ctx context.Context, from, to normpath.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, isDir := f.dirs[from.AsDir()]; isDir {
		dst := to.AsDir()
		if _, ok := f.dirs[dst]; !ok {
			f.dirs[dst] = *fs.NewMetadata(dst, true)
		}
		return nil
	}
	od, ok := f.objects[from.AsFile()]
	if !ok {
		return fs.ErrorNotFound
	}
	dst := to.AsFile()
	if _, isDir := f.dirs[to.AsDir()]; isDir {
		dst = to.AsFile()
	}
	cp := *od
	cp.data = append([]byte(nil), od.data...)
	cp.meta.Path = dst
	f.objects[dst] = &cp
	return nil
}

// memFile is an open in memory file.
type memFile struct {
	fs   *Fs
	key  normpath.Path
	data []byte
	pos  int64
	meta fs.Metadata
}

func (h *memFile) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *memFile) Write(p []byte) (int, error) {
	// writes go through the cursor position
	end := h.pos + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[h.pos:end], p)
	h.pos = end
	h.meta.Len = int64(len(h.data))
	h.meta.ModifiedNow()
	return len(p), nil
}

func (h *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = h.pos + offset
	case io.SeekEnd:
		next = int64(len(h.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	h.pos = next
	return next, nil
}

func (h *memFile) Metadata(ctx context.Context) (*fs.Metadata, error) {
	m := h.meta
	return &m, nil
}

func (h *memFile) Flush(ctx context.Context) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.meta.Len = int64(len(h.data))
	h.fs.objects[h.key] = &objectData{
		data: append([]byte(nil), h.data...),
		meta: h.meta,
	}
	return nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend    = (*Fs)(nil)
	_ fs.FileHandle = (*memFile)(nil)
)
