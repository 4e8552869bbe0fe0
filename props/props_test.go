package props

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

var author = fs.DavProp{
	Namespace: "DAV:",
	Prefix:    "D",
	Name:      "author",
	XML:       []byte("<a>Igor</a>"),
}

// each store variant gets the same behavioral suite
func stores(t *testing.T) map[string]Store {
	dir := t.TempDir()

	y, err := NewYAML(filepath.Join(dir, "props.yml"))
	require.NoError(t, err)

	kv, err := NewKV(filepath.Join(dir, "props.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"yaml":   y,
		"kv":     kv,
	}
}

func TestPatchGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			path := normpath.New("/s3/hello.txt")

			_, err := s.PatchProp(ctx, path, fs.PropPatch{Set: true, Prop: author})
			require.NoError(t, err)

			xml, err := s.GetProp(ctx, path, author)
			require.NoError(t, err)
			assert.Equal(t, author.XML, xml)

			assert.True(t, s.HaveProps(ctx, path))
		})
	}
}

func TestPatchIdempotentAndRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			path := normpath.New("/file.bin")

			for i := 0; i < 2; i++ {
				_, err := s.PatchProp(ctx, path, fs.PropPatch{Set: true, Prop: author})
				require.NoError(t, err)
			}
			all, err := s.GetProps(ctx, path, true)
			require.NoError(t, err)
			require.Len(t, all, 1)

			_, err = s.PatchProp(ctx, path, fs.PropPatch{Set: false, Prop: author})
			require.NoError(t, err)
			_, err = s.GetProp(ctx, path, author)
			assert.ErrorIs(t, err, fs.ErrorNotFound)

			// removing again still succeeds
			_, err = s.PatchProp(ctx, path, fs.PropPatch{Set: false, Prop: author})
			require.NoError(t, err)
		})
	}
}

func TestGetPropsPrefixAndContent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.PatchProp(ctx, normpath.New("/dir/a.txt"), fs.PropPatch{Set: true, Prop: author})
			require.NoError(t, err)
			other := author
			other.Name = "reviewer"
			_, err = s.PatchProp(ctx, normpath.New("/dir/sub/b.txt"), fs.PropPatch{Set: true, Prop: other})
			require.NoError(t, err)
			_, err = s.PatchProp(ctx, normpath.New("/elsewhere.txt"), fs.PropPatch{Set: true, Prop: author})
			require.NoError(t, err)

			all, err := s.GetProps(ctx, normpath.New("/dir/"), true)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			stripped, err := s.GetProps(ctx, normpath.New("/dir/"), false)
			require.NoError(t, err)
			for _, p := range stripped {
				assert.Nil(t, p.XML)
				assert.NotEmpty(t, p.Name)
			}
		})
	}
}

func TestRemoveRenameCopy(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			file := normpath.New("/a/x.txt")
			_, err := s.PatchProp(ctx, file, fs.PropPatch{Set: true, Prop: author})
			require.NoError(t, err)

			// file remove
			require.NoError(t, s.RemoveFile(ctx, file))
			_, err = s.GetProp(ctx, file, author)
			assert.ErrorIs(t, err, fs.ErrorNotFound)

			// rename moves descendants of a collection
			deep := normpath.New("/a/b/y.txt")
			_, err = s.PatchProp(ctx, deep, fs.PropPatch{Set: true, Prop: author})
			require.NoError(t, err)
			require.NoError(t, s.Rename(ctx, normpath.New("/a/"), normpath.New("/z/")))
			_, err = s.GetProp(ctx, deep, author)
			assert.ErrorIs(t, err, fs.ErrorNotFound)
			xml, err := s.GetProp(ctx, normpath.New("/z/b/y.txt"), author)
			require.NoError(t, err)
			assert.Equal(t, author.XML, xml)

			// copy leaves the source in place
			require.NoError(t, s.Copy(ctx, normpath.New("/z/b/y.txt"), normpath.New("/copy.txt")))
			_, err = s.GetProp(ctx, normpath.New("/z/b/y.txt"), author)
			require.NoError(t, err)
			_, err = s.GetProp(ctx, normpath.New("/copy.txt"), author)
			require.NoError(t, err)

			// dir remove drops the subtree
			require.NoError(t, s.RemoveDir(ctx, normpath.New("/z/")))
			_, err = s.GetProp(ctx, normpath.New("/z/b/y.txt"), author)
			assert.ErrorIs(t, err, fs.ErrorNotFound)
		})
	}
}

func TestYAMLPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "props.yml")

	y, err := NewYAML(file)
	require.NoError(t, err)
	_, err = y.PatchProp(ctx, normpath.New("/doc.txt"), fs.PropPatch{Set: true, Prop: author})
	require.NoError(t, err)

	// the dump happened on mutation; a fresh store sees the data
	reopened, err := NewYAML(file)
	require.NoError(t, err)
	xml, err := reopened.GetProp(ctx, normpath.New("/doc.txt"), author)
	require.NoError(t, err)
	assert.Equal(t, author.XML, xml)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "author")
	// payload is stored as base64, not raw XML
	assert.NotContains(t, string(data), "<a>Igor</a>")
}

func TestKVHavePropsCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := NewKV(filepath.Join(dir, "props.db"))
	require.NoError(t, err)
	defer func() { _ = kv.Close() }()

	// collections short circuit
	assert.True(t, kv.HaveProps(ctx, normpath.New("/anything/")))
	// resources consult the store
	assert.False(t, kv.HaveProps(ctx, normpath.New("/nothing.txt")))
}
