package localfs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

func newTestFs(t *testing.T) *Fs {
	t.Helper()
	f, err := NewFs(t.TempDir())
	require.NoError(t, err)
	return f
}

func TestRoundTrip(t *testing.T) {
	f := newTestFs(t)
	ctx := context.Background()
	body := []byte("on disk")

	h, err := f.Open(ctx, normpath.New("/f.txt"),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write(body)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))

	h, err = f.Open(ctx, normpath.New("/f.txt"), fs.OpenOptions{Read: true})
	require.NoError(t, err)
	got, err := io.ReadAll(h)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))
	assert.Equal(t, body, got)

	meta, err := f.Metadata(ctx, normpath.New("/f.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), meta.Len)
	assert.False(t, meta.IsDir)
}

func TestDirsAndListing(t *testing.T) {
	f := newTestFs(t)
	ctx := context.Background()

	require.NoError(t, f.CreateDir(ctx, normpath.New("/d/")))
	assert.ErrorIs(t, f.CreateDir(ctx, normpath.New("/d/")), fs.ErrorExists)
	assert.ErrorIs(t, f.CreateDir(ctx, normpath.New("/missing/sub/")), fs.ErrorNotFound)

	h, err := f.Open(ctx, normpath.New("/d/inner.txt"),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))

	entries, err := f.ReadDir(ctx, normpath.New("/d/"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inner.txt", entries[0].Name)

	_, err = f.Open(ctx, normpath.New("/d"), fs.OpenOptions{Read: true})
	assert.ErrorIs(t, err, fs.ErrorForbidden)
}

func TestRenameAndRemove(t *testing.T) {
	f := newTestFs(t)
	ctx := context.Background()

	h, err := f.Open(ctx, normpath.New("/a.txt"),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))

	require.NoError(t, f.Rename(ctx, normpath.New("/a.txt"), normpath.New("/b.txt")))
	_, err = f.Metadata(ctx, normpath.New("/a.txt"))
	assert.ErrorIs(t, err, fs.ErrorNotFound)

	require.NoError(t, f.RemoveFile(ctx, normpath.New("/b.txt")))
	assert.ErrorIs(t, f.RemoveFile(ctx, normpath.New("/b.txt")), fs.ErrorNotFound)

	require.NoError(t, f.CreateDir(ctx, normpath.New("/d/")))
	assert.ErrorIs(t, f.RemoveFile(ctx, normpath.New("/d")), fs.ErrorForbidden)
	require.NoError(t, f.RemoveDir(ctx, normpath.New("/d/")))
}

func TestCopy(t *testing.T) {
	f := newTestFs(t)
	ctx := context.Background()

	h, err := f.Open(ctx, normpath.New("/src"),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))

	require.NoError(t, f.Copy(ctx, normpath.New("/src"), normpath.New("/dst")))
	meta, err := f.Metadata(ctx, normpath.New("/dst"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Len)
}
