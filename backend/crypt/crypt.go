// Package crypt provides a wrapper which transparently encrypts file
// content flowing through any backend with a ChaCha20 keystream.
//
// Only confidentiality is offered: the ciphertext is not
// authenticated, so a corrupted byte decrypts to a corrupted byte with
// no detection. The nonce is fixed per configuration; reusing one key
// and nonce across different files repeats the keystream at equal
// offsets, which weakens the stream cipher. Rekeying in place is not
// supported.
package crypt

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// Fs wraps an inner backend, owning it exclusively. Everything except
// file content passes straight through.
type Fs struct {
	inner fs.Backend
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
}

// NewFs wraps inner. key must be 32 bytes and nonce 12 bytes.
func NewFs(inner fs.Backend, key, nonce []byte) (*Fs, error) {
	f := &Fs{inner: inner}
	if copy(f.key[:], key) != chacha20.KeySize || len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20.KeySize, len(key))
	}
	if copy(f.nonce[:], nonce) != chacha20.NonceSize || len(nonce) != chacha20.NonceSize {
		return nil, fmt.Errorf("encryption nonce must be %d bytes, got %d", chacha20.NonceSize, len(nonce))
	}
	return f, nil
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("encrypted %v", f.inner)
}

// Open opens the inner handle and seeds a fresh cipher for it.
func (f *Fs) Open(ctx context.Context, path normpath.Path, opts fs.OpenOptions) (fs.FileHandle, error) {
	inner, err := f.inner.Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(f.key[:], f.nonce[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &cryptFile{inner: inner, cipher: cipher}, nil
}

// ReadDir lists the collection at path.
func (f *Fs) ReadDir(ctx context.Context, path normpath.Path) ([]fs.DirEntry, error) {
	return f.inner.ReadDir(ctx, path)
}

// Metadata probes path.
func (f *Fs) Metadata(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	return f.inner.Metadata(ctx, path)
}

// CreateDir creates the collection at path.
func (f *Fs) CreateDir(ctx context.Context, path normpath.Path) error {
	return f.inner.CreateDir(ctx, path)
}

// RemoveFile removes the resource at path.
func (f *Fs) RemoveFile(ctx context.Context, path normpath.Path) error {
	return f.inner.RemoveFile(ctx, path)
}

// RemoveDir removes the collection at path.
func (f *Fs) RemoveDir(ctx context.Context, path normpath.Path) error {
	return f.inner.RemoveDir(ctx, path)
}

// Rename moves from to to.
func (f *Fs) Rename(ctx context.Context, from, to normpath.Path) error {
	return f.inner.Rename(ctx, from, to)
}

// Copy copies from to to. The ciphertext is copied as is, which stays
// decryptable because the keystream restarts per file.
func (f *Fs) Copy(ctx context.Context, from, to normpath.Path) error {
	return f.inner.Copy(ctx, from, to)
}

// cryptFile applies the keystream over the inner handle. The cipher is
// mutex guarded: read and write paths of a shared handle may
// interleave at suspension points in the request layer.
type cryptFile struct {
	inner  fs.FileHandle
	mu     sync.Mutex
	cipher *chacha20.Cipher
}

func (h *cryptFile) apply(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cipher.XORKeyStream(p, p)
}

func (h *cryptFile) Read(p []byte) (int, error) {
	n, err := h.inner.Read(p)
	if n > 0 {
		h.apply(p[:n])
	}
	return n, err
}

func (h *cryptFile) Write(p []byte) (int, error) {
	// encrypt a copy so the caller's buffer stays intact
	enc := make([]byte, len(p))
	copy(enc, p)
	h.apply(enc)
	return h.inner.Write(enc)
}

func (h *cryptFile) Seek(offset int64, whence int) (int64, error) {
	return h.inner.Seek(offset, whence)
}

func (h *cryptFile) Metadata(ctx context.Context) (*fs.Metadata, error) {
	return h.inner.Metadata(ctx)
}

func (h *cryptFile) Flush(ctx context.Context) error {
	return h.inner.Flush(ctx)
}

// Abort forwards to the inner handle when it holds server side state.
func (h *cryptFile) Abort(ctx context.Context) error {
	if aborter, ok := h.inner.(fs.Aborter); ok {
		return aborter.Abort(ctx)
	}
	return nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend    = (*Fs)(nil)
	_ fs.FileHandle = (*cryptFile)(nil)
	_ fs.Aborter    = (*cryptFile)(nil)
)
