// Package fs defines the filesystem contract shared by all backends:
// the Backend capability set, open file handles, metadata, directory
// entries and dead property types.
//
// Backends implement Backend. Optional capabilities (dead property
// management) are discovered with interface upgrades in the same way
// optional features are probed elsewhere in this code base.
package fs

import (
	"context"
	"io"

	"github.com/khooj/webdav-ss/lib/normpath"
)

// Backend is the capability set every mounted filesystem exposes.
//
// All operations take the request context and a normalized path. Paths
// ending in "/" denote collections, everything else denotes resources.
type Backend interface {
	// Open opens the resource at path for reading or writing
	// according to opts. Opening a collection fails with
	// ErrorForbidden.
	Open(ctx context.Context, path normpath.Path, opts OpenOptions) (FileHandle, error)

	// ReadDir lists the collection at path.
	ReadDir(ctx context.Context, path normpath.Path) ([]DirEntry, error)

	// Metadata probes path, preferring the collection interpretation
	// when both a collection and a resource would match.
	Metadata(ctx context.Context, path normpath.Path) (*Metadata, error)

	// CreateDir creates the collection at path. The parent collection
	// must exist.
	CreateDir(ctx context.Context, path normpath.Path) error

	// RemoveFile removes the resource at path.
	RemoveFile(ctx context.Context, path normpath.Path) error

	// RemoveDir removes the collection at path. Backends remove only
	// the collection marker; emptying the collection first is the
	// caller's responsibility.
	RemoveDir(ctx context.Context, path normpath.Path) error

	// Rename moves from to to, recursing into collections.
	Rename(ctx context.Context, from, to normpath.Path) error

	// Copy copies a single resource or collection marker from from to
	// to using server side operations where available.
	Copy(ctx context.Context, from, to normpath.Path) error
}

// PropManager is implemented by backends that can store WebDAV dead
// properties. Use an interface upgrade to discover it:
//
//	if pm, ok := b.(fs.PropManager); ok { ... }
type PropManager interface {
	// HaveProps reports whether path has any dead properties.
	HaveProps(ctx context.Context, path normpath.Path) bool

	// PatchProps applies a set of property patches, returning a
	// status for each patch.
	PatchProps(ctx context.Context, path normpath.Path, patch []PropPatch) ([]PropStat, error)

	// GetProp returns the payload of a single property, or
	// ErrorNotFound if it is absent.
	GetProp(ctx context.Context, path normpath.Path, prop DavProp) ([]byte, error)

	// GetProps returns all properties attached at or below path. With
	// withXML false the payloads are stripped, leaving identifiers.
	GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]DavProp, error)
}

// FileHandle is an open file. Handles are bound to the context passed
// to Open and are not safe for concurrent use; the request layer
// serializes access.
//
// Write-streaming handles may not support Read or Seek, in which case
// those methods return ErrorNotImplemented.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Seeker

	// Metadata returns the handle's current metadata, reflecting any
	// writes made through the handle.
	Metadata(ctx context.Context) (*Metadata, error)

	// Flush persists buffered writes. It must be called before the
	// handle is discarded; a streaming handle discarded without Flush
	// keeps its upload open until Abort (see Aborter) is called.
	Flush(ctx context.Context) error
}

// Aborter is implemented by handles that hold server side state which
// should be released when the handle is discarded without a Flush.
type Aborter interface {
	Abort(ctx context.Context) error
}

// DirEntry is one entry of a collection listing. Name is the leaf
// name, with a trailing "/" for sub-collections.
type DirEntry struct {
	Name string
	Meta *Metadata
}

// DavProp is a dead property. The payload is opaque XML bytes; Prefix
// is informational only, properties are identified by (Namespace,
// Name) within one path.
type DavProp struct {
	Namespace string
	Prefix    string
	Name      string
	XML       []byte
}

// PropPatch sets (Set true) or removes (Set false) one property.
type PropPatch struct {
	Set  bool
	Prop DavProp
}

// PropStat is the per-property outcome of a PatchProps call. Status is
// an HTTP status code.
type PropStat struct {
	Status int
	Prop   DavProp
}
