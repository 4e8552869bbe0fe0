package normpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.Equal(t, Path("/"), New("/"))
	assert.Equal(t, Path("/"), New(""))
	assert.Equal(t, Path("file.txt"), New("/file.txt"))
	assert.Equal(t, Path("somedir/"), New("/somedir/"))
	assert.Equal(t, Path("somedir/"), New("somedir/"))
	assert.Equal(t, Path("somedir/file.txt"), New("/somedir/file.txt"))
	// percent escapes decode to canonical bytes
	assert.Equal(t, Path("res-€"), New("/res-%e2%82%ac"))
}

func TestJoining(t *testing.T) {
	p := New("/")
	assert.Equal(t, Path("file/file/file"),
		p.JoinFile("file").JoinFile("/file").JoinFile("file/").JoinFile(""))
	assert.Equal(t, Path("dir/dir/dir/"),
		p.JoinDir("dir").JoinDir("dir").JoinDir("dir").JoinDir(""))
}

func TestParent(t *testing.T) {
	p := New("/some/long/directories/file.txt")
	assert.Equal(t, Path("some/long/directories/"), p.Parent())
	assert.Equal(t, Path("some/long/"), p.Parent().Parent())
	assert.Equal(t, Path("some/"), p.Parent().Parent().Parent())
	assert.Equal(t, Root, p.Parent().Parent().Parent().Parent())
	assert.Equal(t, Root, p.Parent().Parent().Parent().Parent().Parent())
	assert.Equal(t, Path("some/long/"), New("some/long/directories/").Parent())
}

func TestDirsParent(t *testing.T) {
	assert.Equal(t, Path("a/"), New("a/b/").DirsParent())
	assert.Equal(t, Path("a/"), New("a/b/c").DirsParent())
	assert.Equal(t, Root, New("a").DirsParent())
}

func TestStripPrefix(t *testing.T) {
	p := New("/some/long/directories/file.txt")
	assert.Equal(t, Path("file.txt"), p.StripPrefix(New("/some/long/directories/")))
	assert.Equal(t, Path("directories/file.txt"), p.StripPrefix(New("/some/long/")))
	assert.Equal(t, Path("long/directories/file.txt"), p.StripPrefix(New("/some/")))
	// prefix that does not match leaves the path unchanged
	assert.Equal(t, Path("somekey.txt"), New("somekey.txt").StripPrefix(New("/")))
}

func TestForms(t *testing.T) {
	assert.Equal(t, Path("a/b"), New("a/b/").AsFile())
	assert.Equal(t, Path("a/b"), New("a/b").AsFile())
	assert.Equal(t, Path("a/b/"), New("a/b").AsDir())
	assert.Equal(t, Path("a/b/"), New("a/b/").AsDir())
	// as_dir(as_file(p)) round trips any collection
	p := New("x/y/z/")
	assert.Equal(t, p, p.AsFile().AsDir())
}

func TestPredicates(t *testing.T) {
	assert.True(t, New("/").IsRoot())
	assert.True(t, New("/").IsCollection())
	assert.False(t, New("a/b").IsCollection())
	assert.True(t, New("a/b/").IsCollection())
	assert.False(t, New("a/b/").IsRoot())
}

func TestName(t *testing.T) {
	assert.Equal(t, "file.txt", New("a/b/file.txt").Name())
	assert.Equal(t, "b", New("a/b/").Name())
	assert.Equal(t, "/", New("/").Name())
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "a/b%20c/d.txt", New("a/b c/d.txt").Encode())
	// ".", "/" and quotes survive re-encoding
	assert.Equal(t, `a/"quoted".txt`, New(`a/"quoted".txt`).Encode())
}
