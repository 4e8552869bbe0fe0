// Package localfs provides a backend over a directory of the local
// filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// Fs serves files below a root directory.
type Fs struct {
	root string
}

// NewFs makes a backend rooted at root, creating the directory if it
// is missing.
func NewFs(root string) (*Fs, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root %q: %w", root, err)
	}
	return &Fs{root: root}, nil
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("local root %q", f.root)
}

// localPath maps a normalized path onto the disk.
func (f *Fs) localPath(path normpath.Path) string {
	return filepath.Join(f.root, filepath.FromSlash(string(path.AsFile())))
}

// mapError converts os errors to the backend taxonomy.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, iofs.ErrNotExist):
		return fs.ErrorNotFound
	case errors.Is(err, iofs.ErrExist):
		return fs.ErrorExists
	case errors.Is(err, iofs.ErrPermission):
		return fs.ErrorForbidden
	}
	return err
}

func (f *Fs) metadataOf(path normpath.Path, fi os.FileInfo) *fs.Metadata {
	p := path
	if fi.IsDir() {
		p = path.AsDir()
	} else {
		p = path.AsFile()
	}
	return &fs.Metadata{
		Path:       p,
		Len:        fi.Size(),
		Modified:   fi.ModTime(),
		Created:    fi.ModTime(),
		IsDir:      fi.IsDir(),
		Executable: fi.Mode()&0100 != 0,
	}
}

// Metadata probes path.
func (f *Fs) Metadata(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	fi, err := os.Stat(f.localPath(path))
	if err != nil {
		return nil, mapError(err)
	}
	return f.metadataOf(path, fi), nil
}

// ReadDir lists the collection at path.
func (f *Fs) ReadDir(ctx context.Context, path normpath.Path) ([]fs.DirEntry, error) {
	list, err := os.ReadDir(f.localPath(path))
	if err != nil {
		return nil, mapError(err)
	}
	entries := make([]fs.DirEntry, 0, len(list))
	for _, item := range list {
		fi, err := item.Info()
		if err != nil {
			continue
		}
		name := item.Name()
		child := path.AsDir().JoinFile(name)
		if fi.IsDir() {
			name += "/"
			child = child.AsDir()
		}
		entries = append(entries, fs.DirEntry{Name: name, Meta: f.metadataOf(child, fi)})
	}
	return entries, nil
}

// Open opens the resource at path.
func (f *Fs) Open(ctx context.Context, path normpath.Path, opts fs.OpenOptions) (fs.FileHandle, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	local := f.localPath(path)
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		return nil, fs.ErrorForbidden
	}

	flag := 0
	switch {
	case opts.Read && opts.Write:
		flag = os.O_RDWR
	case opts.Write:
		flag = os.O_WRONLY
	}
	if opts.Create {
		flag |= os.O_CREATE
	}
	if opts.CreateNew {
		flag |= os.O_EXCL
	}
	if opts.Truncate {
		flag |= os.O_TRUNC
	}
	if opts.Append {
		flag |= os.O_APPEND
	}
	file, err := os.OpenFile(local, flag, 0644)
	if err != nil {
		return nil, mapError(err)
	}
	return &localFile{file: file, path: path.AsFile(), fs: f}, nil
}

// CreateDir creates the collection at path.
func (f *Fs) CreateDir(ctx context.Context, path normpath.Path) error {
	local := f.localPath(path)
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		return fs.ErrorExists
	}
	parent := filepath.Dir(local)
	fi, err := os.Stat(parent)
	if err != nil {
		return fs.ErrorNotFound
	}
	if !fi.IsDir() {
		return fs.ErrorForbidden
	}
	return mapError(os.Mkdir(local, 0755))
}

// RemoveFile removes the resource at path.
func (f *Fs) RemoveFile(ctx context.Context, path normpath.Path) error {
	local := f.localPath(path)
	fi, err := os.Stat(local)
	if err != nil {
		return mapError(err)
	}
	if fi.IsDir() {
		return fs.ErrorForbidden
	}
	return mapError(os.Remove(local))
}

// RemoveDir removes the collection at path.
func (f *Fs) RemoveDir(ctx context.Context, path normpath.Path) error {
	local := f.localPath(path)
	fi, err := os.Stat(local)
	if err != nil {
		return mapError(err)
	}
	if !fi.IsDir() {
		return fs.ErrorForbidden
	}
	return mapError(os.Remove(local))
}

// Rename moves from to to.
func (f *Fs) Rename(ctx context.Context, from, to normpath.Path) error {
	dst := f.localPath(to)
	// clear whatever occupies the destination
	if fi, err := os.Stat(dst); err == nil {
		if fi.IsDir() {
			if err := os.RemoveAll(dst); err != nil {
				return mapError(err)
			}
		} else if err := os.Remove(dst); err != nil {
			return mapError(err)
		}
	}
	return mapError(os.Rename(f.localPath(from), dst))
}

// Copy copies a single resource or creates the destination collection
// for a collection source.
func (f *Fs) Copy(ctx context.Context, from, to normpath.Path) error {
	srcInfo, err := os.Stat(f.localPath(from))
	if err != nil {
		return mapError(err)
	}
	if srcInfo.IsDir() {
		return mapError(os.MkdirAll(f.localPath(to), 0755))
	}
	src, err := os.Open(f.localPath(from))
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(f.localPath(to))
	if err != nil {
		return mapError(err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy %q: %w", from, err)
	}
	return dst.Close()
}

// localFile adapts os.File to the handle contract.
type localFile struct {
	file *os.File
	path normpath.Path
	fs   *Fs
}

func (h *localFile) Read(p []byte) (int, error)  { return h.file.Read(p) }
func (h *localFile) Write(p []byte) (int, error) { return h.file.Write(p) }
func (h *localFile) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

func (h *localFile) Metadata(ctx context.Context) (*fs.Metadata, error) {
	fi, err := h.file.Stat()
	if err != nil {
		return nil, mapError(err)
	}
	return h.fs.metadataOf(h.path, fi), nil
}

func (h *localFile) Flush(ctx context.Context) error {
	if err := h.file.Sync(); err != nil {
		// read only handles cannot always sync, that is fine
		if !errors.Is(err, iofs.ErrPermission) && !errors.Is(err, iofs.ErrInvalid) {
			return mapError(err)
		}
	}
	return nil
}

func (h *localFile) Close() error {
	return h.file.Close()
}

// Check the interfaces are satisfied
var (
	_ fs.Backend    = (*Fs)(nil)
	_ fs.FileHandle = (*localFile)(nil)
)
