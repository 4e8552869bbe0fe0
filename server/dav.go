// Package server exposes the aggregate over WebDAV. The protocol
// parsing and lock management come from golang.org/x/net/webdav; this
// package adapts the backend contract to the handler's filesystem
// interface and serves it over HTTP or HTTPS.
package server

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	iofs "io/fs"
	"mime"
	"os"
	gopath "path"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"github.com/khooj/webdav-ss/aggregate"
	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// davFS adapts the aggregate to webdav.FileSystem.
type davFS struct {
	agg *aggregate.Aggregate
}

// mapError converts backend sentinels into os errors so the handler's
// os.IsNotExist / os.IsExist checks translate them to WebDAV statuses.
func mapError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var inner error
	switch {
	case errors.Is(err, fs.ErrorNotFound):
		inner = iofs.ErrNotExist
	case errors.Is(err, fs.ErrorExists):
		inner = iofs.ErrExist
	case errors.Is(err, fs.ErrorForbidden):
		inner = iofs.ErrPermission
	default:
		return err
	}
	return &iofs.PathError{Op: op, Path: name, Err: inner}
}

// pathOf converts a handler path, inferring the collection bit from
// the trailing slash.
func pathOf(name string) normpath.Path {
	isCollection := name == "" || strings.HasSuffix(name, "/")
	return normpath.FromDav(gopath.Clean("/"+name), isCollection)
}

// Mkdir makes the collection at name.
func (d *davFS) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	err := d.agg.CreateDir(ctx, pathOf(name).AsDir())
	return mapError("mkdir", name, err)
}

// OpenFile opens name. Collections open as listable directory handles;
// resources delegate to the owning backend.
func (d *davFS) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	path := pathOf(name)
	opts := fs.OpenOptionsFromFlags(flag)

	meta, err := d.agg.Metadata(ctx, path)
	if err == nil && meta.IsDir {
		// collections open for listing and property patching, but
		// never for content
		if opts.Create || opts.CreateNew || opts.Truncate || opts.Append {
			return nil, mapError("open", name, fs.ErrorForbidden)
		}
		return &davDir{ctx: ctx, agg: d.agg, path: path.AsDir(), meta: meta}, nil
	}

	handle, err := d.agg.Open(ctx, path.AsFile(), opts)
	if err != nil {
		return nil, mapError("open", name, err)
	}
	return &davFile{
		ctx:       ctx,
		agg:       d.agg,
		path:      path.AsFile(),
		handle:    handle,
		mustFlush: opts.Create,
	}, nil
}

// RemoveAll removes name. Backends only drop collection markers, so
// the recursion over descendants happens here.
func (d *davFS) RemoveAll(ctx context.Context, name string) error {
	path := pathOf(name)
	meta, err := d.agg.Metadata(ctx, path)
	if err != nil {
		return mapError("remove", name, err)
	}
	if !meta.IsDir {
		return mapError("remove", name, d.agg.RemoveFile(ctx, path.AsFile()))
	}
	if path.AsDir().IsRoot() {
		return mapError("remove", name, fs.ErrorForbidden)
	}
	return mapError("remove", name, d.removeTree(ctx, path.AsDir()))
}

// removeTree removes a collection depth first.
func (d *davFS) removeTree(ctx context.Context, dir normpath.Path) error {
	entries, err := d.agg.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name, "/") {
			if err := d.removeTree(ctx, dir.JoinDir(entry.Name)); err != nil {
				return err
			}
		} else {
			if err := d.agg.RemoveFile(ctx, dir.JoinFile(entry.Name)); err != nil {
				return err
			}
		}
	}
	return d.agg.RemoveDir(ctx, dir)
}

// Rename moves oldName to newName, preserving the collection bit of
// the source.
func (d *davFS) Rename(ctx context.Context, oldName, newName string) error {
	from := pathOf(oldName)
	to := pathOf(newName)
	meta, err := d.agg.Metadata(ctx, from)
	if err != nil {
		return mapError("rename", oldName, err)
	}
	if meta.IsDir {
		from, to = from.AsDir(), to.AsDir()
	} else {
		from, to = from.AsFile(), to.AsFile()
	}
	return mapError("rename", oldName, d.agg.Rename(ctx, from, to))
}

// Stat probes name.
func (d *davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	meta, err := d.agg.Metadata(ctx, pathOf(name))
	if err != nil {
		return nil, mapError("stat", name, err)
	}
	return FileInfo{meta}, nil
}

// FileInfo adapts backend metadata for the handler.
type FileInfo struct {
	Meta *fs.Metadata
}

// Name returns the leaf name
func (fi FileInfo) Name() string { return fi.Meta.Name() }

// Size returns the length in bytes
func (fi FileInfo) Size() int64 { return fi.Meta.Len }

// Mode returns the file mode
func (fi FileInfo) Mode() os.FileMode {
	if fi.Meta.IsDir {
		return os.ModeDir | 0555
	}
	if fi.Meta.Executable {
		return 0755
	}
	return 0644
}

// ModTime returns the modification time
func (fi FileInfo) ModTime() time.Time { return fi.Meta.Modified }

// IsDir reports whether the entry is a collection
func (fi FileInfo) IsDir() bool { return fi.Meta.IsDir }

// Sys returns underlying data source (always nil)
func (fi FileInfo) Sys() interface{} { return nil }

// ETag returns the version identifier so the handler does not invent
// one by reading the file.
func (fi FileInfo) ETag(ctx context.Context) (string, error) {
	return `"` + fi.Meta.ETag() + `"`, nil
}

// ContentType returns the content type by extension so the handler
// does not sniff it with an extra read.
func (fi FileInfo) ContentType(ctx context.Context) (string, error) {
	if fi.Meta.IsDir {
		return "httpd/unix-directory", nil
	}
	if t := mime.TypeByExtension(gopath.Ext(fi.Meta.Name())); t != "" {
		return t, nil
	}
	return "application/octet-stream", nil
}

// davFile is an open resource handed to the handler.
type davFile struct {
	ctx       context.Context
	agg       *aggregate.Aggregate
	path      normpath.Path
	handle    fs.FileHandle
	mustFlush bool // created handles persist even without writes
	wrote     bool
	closed    bool
	failed    bool
}

func (f *davFile) Read(p []byte) (int, error) {
	n, err := f.handle.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, mapError("read", string(f.path), err)
	}
	return n, err
}

func (f *davFile) Write(p []byte) (int, error) {
	n, err := f.handle.Write(p)
	if err != nil {
		f.failed = true
		return n, mapError("write", string(f.path), err)
	}
	f.wrote = true
	return n, nil
}

func (f *davFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.handle.Seek(offset, whence)
	return pos, mapError("seek", string(f.path), err)
}

// Close flushes the handle if it has anything to persist. A handle
// whose write already failed is aborted instead, releasing any
// pending upload session.
func (f *davFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.failed {
		if aborter, ok := f.handle.(fs.Aborter); ok {
			_ = aborter.Abort(f.ctx)
		}
		return nil
	}
	var err error
	if f.wrote || f.mustFlush {
		err = f.handle.Flush(f.ctx)
		if err != nil {
			if aborter, ok := f.handle.(fs.Aborter); ok {
				_ = aborter.Abort(f.ctx)
			}
		}
	}
	if closer, ok := f.handle.(io.Closer); ok {
		_ = closer.Close()
	}
	return mapError("close", string(f.path), err)
}

func (f *davFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, mapError("readdir", string(f.path), fs.ErrorForbidden)
}

func (f *davFile) Stat() (os.FileInfo, error) {
	meta, err := f.handle.Metadata(f.ctx)
	if err != nil {
		return nil, mapError("stat", string(f.path), err)
	}
	return FileInfo{meta}, nil
}

// DeadProps returns the dead properties visible at this path.
func (f *davFile) DeadProps() (map[xml.Name]webdav.Property, error) {
	return deadProps(f.ctx, f.agg, f.path)
}

// Patch applies dead property patches at this path.
func (f *davFile) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	return patchProps(f.ctx, f.agg, f.path, patches)
}

// davDir is an open collection. It only lists and stats.
type davDir struct {
	ctx  context.Context
	agg  *aggregate.Aggregate
	path normpath.Path
	meta *fs.Metadata
	pos  int
}

func (d *davDir) Read(p []byte) (int, error)                   { return 0, mapError("read", string(d.path), fs.ErrorForbidden) }
func (d *davDir) Write(p []byte) (int, error)                  { return 0, mapError("write", string(d.path), fs.ErrorForbidden) }
func (d *davDir) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (d *davDir) Close() error                                 { return nil }

func (d *davDir) Readdir(count int) ([]os.FileInfo, error) {
	entries, err := d.agg.ReadDir(d.ctx, d.path)
	if err != nil {
		return nil, mapError("readdir", string(d.path), err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, FileInfo{entry.Meta})
	}
	if count <= 0 {
		return infos[d.pos:], nil
	}
	if d.pos >= len(infos) {
		return nil, io.EOF
	}
	end := d.pos + count
	if end > len(infos) {
		end = len(infos)
	}
	out := infos[d.pos:end]
	d.pos = end
	return out, nil
}

func (d *davDir) Stat() (os.FileInfo, error) {
	return FileInfo{d.meta}, nil
}

// DeadProps returns the dead properties visible at this path.
func (d *davDir) DeadProps() (map[xml.Name]webdav.Property, error) {
	return deadProps(d.ctx, d.agg, d.path)
}

// Patch applies dead property patches at this path.
func (d *davDir) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	return patchProps(d.ctx, d.agg, d.path, patches)
}

// deadProps translates the aggregate's property listing into the
// handler's map shape.
func deadProps(ctx context.Context, agg *aggregate.Aggregate, path normpath.Path) (map[xml.Name]webdav.Property, error) {
	if !agg.HaveProps(ctx, path) {
		return nil, nil
	}
	list, err := agg.GetProps(ctx, path, true)
	if err != nil {
		return nil, err
	}
	out := make(map[xml.Name]webdav.Property, len(list))
	for _, prop := range list {
		name := xml.Name{Space: prop.Namespace, Local: prop.Name}
		out[name] = webdav.Property{XMLName: name, InnerXML: prop.XML}
	}
	return out, nil
}

// patchProps translates the handler's PROPPATCH shape into property
// store patches.
func patchProps(ctx context.Context, agg *aggregate.Aggregate, path normpath.Path, patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	var out []webdav.Propstat
	for _, patch := range patches {
		fsPatch := make([]fs.PropPatch, 0, len(patch.Props))
		for _, prop := range patch.Props {
			fsPatch = append(fsPatch, fs.PropPatch{
				Set: !patch.Remove,
				Prop: fs.DavProp{
					Namespace: prop.XMLName.Space,
					Name:      prop.XMLName.Local,
					XML:       prop.InnerXML,
				},
			})
		}
		stats, err := agg.PatchProps(ctx, path, fsPatch)
		if err != nil {
			return nil, err
		}
		for _, stat := range stats {
			out = append(out, webdav.Propstat{
				Props: []webdav.Property{{
					XMLName: xml.Name{Space: stat.Prop.Namespace, Local: stat.Prop.Name},
				}},
				Status: stat.Status,
			})
		}
	}
	return out, nil
}

// Check the interfaces are satisfied
var (
	_ webdav.FileSystem      = (*davFS)(nil)
	_ webdav.File            = (*davFile)(nil)
	_ webdav.File            = (*davDir)(nil)
	_ webdav.DeadPropsHolder = (*davFile)(nil)
	_ webdav.DeadPropsHolder = (*davDir)(nil)
	_ os.FileInfo            = FileInfo{nil}
	_ webdav.ETager          = FileInfo{nil}
	_ webdav.ContentTyper    = FileInfo{nil}
)
