// Package normpath provides the canonical path form shared by every
// component: an absolute UTF-8 path stored without the redundant
// leading slash (except for the root, which is exactly "/"), ending in
// "/" if and only if it denotes a collection.
//
// Raw paths from the WebDAV layer carry percent-encoded bytes and an
// inconsistent trailing slash convention; this form makes "is this a
// collection?" a one character question and makes joining incapable of
// producing "//".
package normpath

import (
	"net/url"
	"strings"
)

// Path is a normalized path. The zero value is not valid; use New.
type Path string

// Root is the root collection.
const Root = Path("/")

// New canonicalizes s. The leading slash is dropped unless s is the
// root; the trailing slash is preserved, so the collection bit must be
// correct in the input. Percent-escapes are decoded to their canonical
// byte sequence.
func New(s string) Path {
	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}
	if strings.HasPrefix(s, "/") && len(s) > 1 {
		s = s[1:]
	}
	if s == "" {
		s = "/"
	}
	return Path(s)
}

// FromDav converts a handler supplied path, preserving the collection
// bit carried by the trailing slash.
func FromDav(s string, isCollection bool) Path {
	p := New(s)
	if isCollection {
		return p.AsDir()
	}
	return p
}

// trimToken strips bracketing slashes from a path token before
// joining.
func trimToken(token string) string {
	token = strings.TrimSuffix(token, "/")
	token = strings.TrimPrefix(token, "/")
	return token
}

// JoinFile appends token in resource form. An empty token returns the
// path unchanged.
func (p Path) JoinFile(token string) Path {
	token = trimToken(token)
	if token == "" {
		return p
	}
	if p.IsRoot() {
		return Path(token)
	}
	if strings.HasSuffix(string(p), "/") {
		return Path(string(p) + token)
	}
	return Path(string(p) + "/" + token)
}

// JoinDir appends token in collection form. An empty token returns the
// path unchanged.
func (p Path) JoinDir(token string) Path {
	token = trimToken(token)
	if token == "" {
		return p
	}
	if p.IsRoot() {
		return Path(token + "/")
	}
	if strings.HasSuffix(string(p), "/") {
		return Path(string(p) + token + "/")
	}
	return Path(string(p) + "/" + token + "/")
}

// Parent returns the containing collection. The parent of the root is
// the root.
func (p Path) Parent() Path {
	s := strings.TrimSuffix(string(p), "/")
	if s == "" {
		return Root
	}
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return Root
	}
	return Path(s[:i+1])
}

// DirsParent returns the collection listing that contains p: the
// parent for collections, the grandparent for resources.
func (p Path) DirsParent() Path {
	if p.IsCollection() {
		return p.Parent()
	}
	return p.Parent().Parent()
}

// StripPrefix removes prefix from the front of p. If prefix does not
// match, p is returned unchanged.
func (p Path) StripPrefix(prefix Path) Path {
	if strings.HasPrefix(string(p), string(prefix)) {
		return Path(strings.TrimPrefix(string(p), string(prefix)))
	}
	return p
}

// IsCollection reports whether p denotes a collection.
func (p Path) IsCollection() bool {
	return strings.HasSuffix(string(p), "/")
}

// IsRoot reports whether p is the root collection.
func (p Path) IsRoot() bool {
	return p == Root
}

// AsFile drops the trailing slash, converting the path to resource
// form without changing the semantic path.
func (p Path) AsFile() Path {
	if p.IsCollection() {
		return Path(strings.TrimSuffix(string(p), "/"))
	}
	return p
}

// AsDir ensures the trailing slash, converting the path to collection
// form.
func (p Path) AsDir() Path {
	if !p.IsCollection() {
		return Path(string(p) + "/")
	}
	return p
}

// Name returns the last path token, without the collection slash.
func (p Path) Name() string {
	s := strings.TrimSuffix(string(p), "/")
	if s == "" {
		return "/"
	}
	i := strings.LastIndex(s, "/")
	return s[i+1:]
}

// shouldEscape reports whether c falls outside the conservative set
// preserved when re-encoding for outbound URLs.
func shouldEscape(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return false
	}
	switch c {
	case '.', '/', '"':
		return false
	}
	return true
}

// Encode re-encodes the path for use in an outbound URL, preserving
// ".", "/" and `"`.
func (p Path) Encode() string {
	const upperhex = "0123456789ABCDEF"
	s := string(p)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (p Path) String() string {
	return string(p)
}
