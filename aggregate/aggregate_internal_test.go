package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khooj/webdav-ss/backend/memfs"
	"github.com/khooj/webdav-ss/lib/normpath"
	"github.com/khooj/webdav-ss/props"
)

func buildAgg(t *testing.T, prefixes ...string) *Aggregate {
	t.Helper()
	b := NewBuilder(props.NewMemory())
	for _, p := range prefixes {
		b.AddRoute(p, memfs.NewFs())
	}
	agg, err := b.Build()
	require.NoError(t, err)
	return agg
}

func TestFindRoute(t *testing.T) {
	agg := buildAgg(t, "/tmp/fs/fs1", "/tmp/fs1")

	_, rel, err := agg.findRoute(normpath.New("/tmp/fs/fs1"))
	require.NoError(t, err)
	assert.Equal(t, normpath.Root, rel)

	_, rel, err = agg.findRoute(normpath.New("/tmp/fs1"))
	require.NoError(t, err)
	assert.Equal(t, normpath.Root, rel)

	_, rel, err = agg.findRoute(normpath.New("/tmp/fs1/fs1"))
	require.NoError(t, err)
	assert.Equal(t, normpath.New("/fs1"), rel)

	_, rel, err = agg.findRoute(normpath.New("/tmp/fs1/one/two"))
	require.NoError(t, err)
	assert.Equal(t, normpath.New("/one/two"), rel)

	// the collection bit survives routing
	_, rel, err = agg.findRoute(normpath.New("/tmp/fs1/one/"))
	require.NoError(t, err)
	assert.Equal(t, normpath.New("/one/"), rel)

	_, _, err = agg.findRoute(normpath.New("/not_exist"))
	assert.Error(t, err)
}

func TestFindRouteLongestAncestorWins(t *testing.T) {
	agg := buildAgg(t, "/x", "/x/y")

	backendXY := agg.routes["/x/y"]
	backend, rel, err := agg.findRoute(normpath.New("/x/y/z"))
	require.NoError(t, err)
	assert.Equal(t, backendXY, backend)
	assert.Equal(t, normpath.New("/z"), rel)

	backendX := agg.routes["/x"]
	backend, rel, err = agg.findRoute(normpath.New("/x/w"))
	require.NoError(t, err)
	assert.Equal(t, backendX, backend)
	assert.Equal(t, normpath.New("/w"), rel)
}

func TestFindRoutesAtLevel(t *testing.T) {
	agg := buildAgg(t,
		"/fs1", "/fs2",
		"/tmp/fs1", "/tmp/fs2",
		"/tmp/tmp/fs2",
		"/tmp/tmp/tmp/fs2")

	assert.Len(t, agg.findRoutesAtLevel(normpath.New("/")), 3)
	assert.Len(t, agg.findRoutesAtLevel(normpath.New("/fs1/")), 0)
	assert.Len(t, agg.findRoutesAtLevel(normpath.New("/tmp/")), 3)
	assert.Len(t, agg.findRoutesAtLevel(normpath.New("/tmp/tmp/")), 2)
	assert.Len(t, agg.findRoutesAtLevel(normpath.New("/tmp/tmp/tmp/")), 1)
}

func TestDuplicateRouteRejected(t *testing.T) {
	_, err := NewBuilder(props.NewMemory()).
		AddRoute("/fs1", memfs.NewFs()).
		AddRoute("/fs1", memfs.NewFs()).
		Build()
	assert.Error(t, err)
}

func TestEmptyBuilderRejected(t *testing.T) {
	_, err := NewBuilder(props.NewMemory()).Build()
	assert.Error(t, err)
}
