package crypt

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khooj/webdav-ss/backend/memfs"
	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

var (
	testKey   = bytes.Repeat([]byte{0x42}, 32)
	testNonce = bytes.Repeat([]byte{0x24}, 12)
)

func newWrapped(t *testing.T) (*Fs, *memfs.Fs) {
	t.Helper()
	inner := memfs.NewFs()
	f, err := NewFs(inner, testKey, testNonce)
	require.NoError(t, err)
	return f, inner
}

func writeFile(t *testing.T, backend fs.Backend, path string, data []byte) {
	t.Helper()
	ctx := context.Background()
	h, err := backend.Open(ctx, normpath.New(path),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write(data)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))
}

func readFile(t *testing.T, backend fs.Backend, path string) []byte {
	t.Helper()
	h, err := backend.Open(context.Background(), normpath.New(path), fs.OpenOptions{Read: true})
	require.NoError(t, err)
	data, err := io.ReadAll(h)
	require.NoError(t, err)
	return data
}

func TestKeySizes(t *testing.T) {
	inner := memfs.NewFs()
	_, err := NewFs(inner, []byte("short"), testNonce)
	assert.Error(t, err)
	_, err = NewFs(inner, testKey, []byte("short"))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	f, inner := newWrapped(t)
	body := []byte("attack at dawn")

	writeFile(t, f, "/secret.txt", body)
	assert.Equal(t, body, readFile(t, f, "/secret.txt"))

	// bypassing the wrapper yields ciphertext
	stored := readFile(t, inner, "/secret.txt")
	assert.Len(t, stored, len(body))
	assert.NotEqual(t, body, stored)
}

func TestEmptyFile(t *testing.T) {
	f, inner := newWrapped(t)
	writeFile(t, f, "/empty.txt", nil)
	assert.Empty(t, readFile(t, f, "/empty.txt"))
	assert.Empty(t, readFile(t, inner, "/empty.txt"))
}

func TestChunkedWritesAndReads(t *testing.T) {
	f, _ := newWrapped(t)
	ctx := context.Background()
	body := bytes.Repeat([]byte("0123456789abcdef"), 1024)

	// the keystream position advances across write calls
	h, err := f.Open(ctx, normpath.New("/chunks.bin"),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	for off := 0; off < len(body); off += 100 {
		end := off + 100
		if end > len(body) {
			end = len(body)
		}
		_, err = h.Write(body[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, h.Flush(ctx))

	// and the same for reads of odd sizes
	h, err = f.Open(ctx, normpath.New("/chunks.bin"), fs.OpenOptions{Read: true})
	require.NoError(t, err)
	var got []byte
	buf := make([]byte, 333)
	for {
		n, err := h.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, body, got)
}

func TestWriteDoesNotClobberCallerBuffer(t *testing.T) {
	f, _ := newWrapped(t)
	ctx := context.Background()

	h, err := f.Open(ctx, normpath.New("/buf.txt"),
		fs.OpenOptions{Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	buf := []byte("immutable")
	orig := append([]byte(nil), buf...)
	_, err = h.Write(buf)
	require.NoError(t, err)
	assert.Equal(t, orig, buf)
	require.NoError(t, h.Flush(ctx))
}

func TestDirectoryOpsPassThrough(t *testing.T) {
	f, inner := newWrapped(t)
	ctx := context.Background()

	require.NoError(t, f.CreateDir(ctx, normpath.New("/d/")))
	meta, err := inner.Metadata(ctx, normpath.New("/d/"))
	require.NoError(t, err)
	assert.True(t, meta.IsDir)

	writeFile(t, f, "/d/x.txt", []byte("x"))
	entries, err := f.ReadDir(ctx, normpath.New("/d/"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.txt", entries[0].Name)

	require.NoError(t, f.Rename(ctx, normpath.New("/d/x.txt"), normpath.New("/d/y.txt")))
	// renamed ciphertext still decrypts: the keystream restarts per file
	assert.Equal(t, []byte("x"), readFile(t, f, "/d/y.txt"))

	require.NoError(t, f.RemoveFile(ctx, normpath.New("/d/y.txt")))
	require.NoError(t, f.RemoveDir(ctx, normpath.New("/d/")))
	_, err = f.Metadata(ctx, normpath.New("/d/"))
	assert.ErrorIs(t, err, fs.ErrorNotFound)
}
