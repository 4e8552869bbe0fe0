package aggregate_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khooj/webdav-ss/aggregate"
	"github.com/khooj/webdav-ss/backend/memfs"
	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
	"github.com/khooj/webdav-ss/props"
)

var author = fs.DavProp{Namespace: "DAV:", Name: "author", XML: []byte("<a>Igor</a>")}

func build(t *testing.T, prefixes ...string) *aggregate.Aggregate {
	t.Helper()
	b := aggregate.NewBuilder(props.NewMemory())
	for _, p := range prefixes {
		b.AddRoute(p, memfs.NewFs())
	}
	agg, err := b.Build()
	require.NoError(t, err)
	return agg
}

func names(entries []fs.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func writeThrough(t *testing.T, agg *aggregate.Aggregate, path string, data []byte) {
	t.Helper()
	ctx := context.Background()
	h, err := agg.Open(ctx, normpath.New(path),
		fs.OpenOptions{Read: true, Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = h.Write(data)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx))
}

func TestSynthesizedAncestors(t *testing.T) {
	agg := build(t, "/a/b", "/a/c")
	ctx := context.Background()

	entries, err := agg.ReadDir(ctx, normpath.New("/a/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b/", "c/"}, names(entries))
	for _, e := range entries {
		assert.True(t, e.Meta.IsDir)
		assert.Equal(t, int64(4096), e.Meta.Len)
	}

	entries, err = agg.ReadDir(ctx, normpath.New("/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/"}, names(entries))

	// the mount space root and virtual ancestors stat as collections
	meta, err := agg.Metadata(ctx, normpath.New("/"))
	require.NoError(t, err)
	assert.True(t, meta.IsDir)
	meta, err = agg.Metadata(ctx, normpath.New("/a/"))
	require.NoError(t, err)
	assert.True(t, meta.IsDir)

	_, err = agg.Metadata(ctx, normpath.New("/nope/"))
	assert.ErrorIs(t, err, fs.ErrorNotFound)
}

func TestPhysicalAndSyntheticEntriesCombine(t *testing.T) {
	agg := build(t, "/top", "/top/inner")
	ctx := context.Background()

	writeThrough(t, agg, "/top/file.txt", []byte("x"))

	entries, err := agg.ReadDir(ctx, normpath.New("/top/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt", "inner/"}, names(entries))
	// physical entries come first, synthetic after
	assert.Equal(t, "file.txt", entries[0].Name)
}

func TestRoundTripThroughMount(t *testing.T) {
	agg := build(t, "/mem")
	ctx := context.Background()

	body := []byte("payload")
	writeThrough(t, agg, "/mem/f.txt", body)

	h, err := agg.Open(ctx, normpath.New("/mem/f.txt"), fs.OpenOptions{Read: true})
	require.NoError(t, err)
	got, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	meta, err := agg.Metadata(ctx, normpath.New("/mem/f.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), meta.Len)
}

func TestPropsFollowMutations(t *testing.T) {
	agg := build(t, "/mem")
	ctx := context.Background()

	writeThrough(t, agg, "/mem/doc.txt", []byte("x"))
	path := normpath.New("/mem/doc.txt")

	_, err := agg.PatchProps(ctx, path, []fs.PropPatch{{Set: true, Prop: author}})
	require.NoError(t, err)
	assert.True(t, agg.HaveProps(ctx, path))

	// rename carries the property to the new path
	require.NoError(t, agg.Rename(ctx, path, normpath.New("/mem/renamed.txt")))
	_, err = agg.GetProp(ctx, path, author)
	assert.ErrorIs(t, err, fs.ErrorNotFound)
	xml, err := agg.GetProp(ctx, normpath.New("/mem/renamed.txt"), author)
	require.NoError(t, err)
	assert.Equal(t, author.XML, xml)

	// copy duplicates it
	require.NoError(t, agg.Copy(ctx, normpath.New("/mem/renamed.txt"), normpath.New("/mem/copy.txt")))
	_, err = agg.GetProp(ctx, normpath.New("/mem/copy.txt"), author)
	require.NoError(t, err)

	// removing the resource removes its properties
	require.NoError(t, agg.RemoveFile(ctx, normpath.New("/mem/renamed.txt")))
	assert.False(t, agg.HaveProps(ctx, normpath.New("/mem/renamed.txt")))
}

func TestPatchPropsIdempotent(t *testing.T) {
	agg := build(t, "/mem")
	ctx := context.Background()
	path := normpath.New("/mem/doc.txt")

	for i := 0; i < 2; i++ {
		stats, err := agg.PatchProps(ctx, path, []fs.PropPatch{{Set: true, Prop: author}})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 200, stats[0].Status)
	}
	all, err := agg.GetProps(ctx, path, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = agg.PatchProps(ctx, path, []fs.PropPatch{{Set: false, Prop: author}})
	require.NoError(t, err)
	all, err = agg.GetProps(ctx, path, true)
	require.NoError(t, err)
	assert.Len(t, all, 0)
}

func TestCrossMountRenameRejected(t *testing.T) {
	agg := build(t, "/one", "/two")
	ctx := context.Background()
	writeThrough(t, agg, "/one/f.txt", []byte("x"))

	err := agg.Rename(ctx, normpath.New("/one/f.txt"), normpath.New("/two/f.txt"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "across mounts"))
}

func TestDirOperationsRoute(t *testing.T) {
	agg := build(t, "/m")
	ctx := context.Background()

	require.NoError(t, agg.CreateDir(ctx, normpath.New("/m/d/")))
	meta, err := agg.Metadata(ctx, normpath.New("/m/d/"))
	require.NoError(t, err)
	assert.True(t, meta.IsDir)

	require.NoError(t, agg.RemoveDir(ctx, normpath.New("/m/d/")))
	_, err = agg.Metadata(ctx, normpath.New("/m/d/"))
	assert.ErrorIs(t, err, fs.ErrorNotFound)
}
