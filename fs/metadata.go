package fs

import (
	"fmt"
	"time"

	"github.com/khooj/webdav-ss/lib/normpath"
)

// Metadata describes a resource or collection. It is created at open
// or probe time from the store's HEAD response plus synthesized
// defaults.
type Metadata struct {
	Path       normpath.Path
	Len        int64
	Modified   time.Time
	Created    time.Time
	IsDir      bool
	Executable bool
}

// NewMetadata returns metadata for path with both timestamps set to
// now.
func NewMetadata(path normpath.Path, isDir bool) *Metadata {
	now := time.Now()
	return &Metadata{
		Path:     path,
		Modified: now,
		Created:  now,
		IsDir:    isDir,
	}
}

// Name returns the leaf name of the entry.
func (m *Metadata) Name() string {
	return m.Path.Name()
}

// ETag derives the version identifier from length and modification
// time: "{len:x}-{unixmicros:x}" for non-empty resources,
// "{unixmicros:x}" otherwise.
func (m *Metadata) ETag() string {
	micros := m.Modified.UnixMicro()
	if micros < 0 {
		micros = 0
	}
	if !m.IsDir && m.Len > 0 {
		return fmt.Sprintf("%x-%x", m.Len, micros)
	}
	return fmt.Sprintf("%x", micros)
}

// AddLen accounts bytes written through a handle.
func (m *Metadata) AddLen(n int64) {
	m.Len += n
}

// ModifiedNow stamps the modification time.
func (m *Metadata) ModifiedNow() {
	m.Modified = time.Now()
}
