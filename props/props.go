// Package props persists WebDAV dead properties keyed by path. Object
// stores cannot carry dead properties natively, so the aggregator
// stores them in a side channel: in memory, mirrored to a YAML file,
// or in an embedded bbolt database.
package props

import (
	"context"
	"net/http"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// Store is the dead property side channel. Properties are keyed by
// path and by (namespace, name) within that path; the prefix is
// informational.
//
// Stores are shared across requests and must be internally
// synchronized. fs.ErrorNotFound is reserved for "no such property";
// storage faults are returned as wrapped errors.
type Store interface {
	// HaveProps reports whether path has properties. Implementations
	// may short circuit true for collections, which clients probe
	// before issuing PROPFIND.
	HaveProps(ctx context.Context, path normpath.Path) bool

	// PatchProp sets or removes one property. Setting is idempotent
	// and removing an absent property succeeds.
	PatchProp(ctx context.Context, path normpath.Path, patch fs.PropPatch) (fs.PropStat, error)

	// GetProp returns the payload of one property.
	GetProp(ctx context.Context, path normpath.Path, prop fs.DavProp) ([]byte, error)

	// GetProps returns the properties whose key path begins with
	// path, so a collection's listing includes its descendants. With
	// withXML false payloads are stripped but identifiers preserved.
	GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]fs.DavProp, error)

	// RemoveFile drops the properties of the resource at path.
	RemoveFile(ctx context.Context, path normpath.Path) error

	// RemoveDir drops the properties at or below path.
	RemoveDir(ctx context.Context, path normpath.Path) error

	// Rename moves properties from from to to, rewriting descendant
	// keys when from is a collection.
	Rename(ctx context.Context, from, to normpath.Path) error

	// Copy duplicates properties from from to to.
	Copy(ctx context.Context, from, to normpath.Path) error
}

// statusOK is the per-property success status reported from PatchProp.
var statusOK = http.StatusOK

// rewrite maps a property key path under from to the equivalent path
// under to.
func rewrite(path, from, to normpath.Path) normpath.Path {
	if path == from {
		return to
	}
	if from.IsCollection() {
		rel := path.StripPrefix(from)
		if rel != path {
			return normpath.Path(string(to.AsDir()) + string(rel))
		}
	}
	return path
}
