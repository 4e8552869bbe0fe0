package fs

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khooj/webdav-ss/lib/normpath"
)

func TestETagFormat(t *testing.T) {
	modified := time.Unix(1700000000, 123456000)
	micros := modified.UnixMicro()

	file := &Metadata{Path: normpath.New("/f.txt"), Len: 0x1a2b, Modified: modified}
	assert.Equal(t, "1a2b-"+hex(micros), file.ETag())

	// empty resources and collections carry only the time part
	empty := &Metadata{Path: normpath.New("/e.txt"), Modified: modified}
	assert.Equal(t, hex(micros), empty.ETag())
	dir := &Metadata{Path: normpath.New("/d/"), Len: 4096, IsDir: true, Modified: modified}
	assert.Equal(t, hex(micros), dir.ETag())
}

func hex(v int64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var out []byte
	for v > 0 {
		out = append([]byte{digits[v&0xf]}, out...)
		v >>= 4
	}
	return string(out)
}

func TestOpenOptionsFromFlags(t *testing.T) {
	opts := OpenOptionsFromFlags(os.O_RDONLY)
	assert.True(t, opts.Read)
	assert.False(t, opts.Write)

	opts = OpenOptionsFromFlags(os.O_RDWR | os.O_CREATE | os.O_TRUNC)
	assert.True(t, opts.Read)
	assert.True(t, opts.Write)
	assert.True(t, opts.Create)
	assert.True(t, opts.Truncate)
	assert.False(t, opts.CreateNew)

	opts = OpenOptionsFromFlags(os.O_WRONLY | os.O_CREATE | os.O_EXCL)
	assert.False(t, opts.Read)
	assert.True(t, opts.Write)
	assert.True(t, opts.CreateNew)

	opts = OpenOptionsFromFlags(os.O_WRONLY | os.O_APPEND)
	assert.True(t, opts.Append)
}

func TestOpenOptionsValidate(t *testing.T) {
	assert.NoError(t, OpenOptions{Read: true}.Validate())
	assert.NoError(t, OpenOptions{Write: true, Create: true, CreateNew: true}.Validate())
	assert.Error(t, OpenOptions{Write: true, Append: true, Truncate: true}.Validate())
	assert.Error(t, OpenOptions{Write: true, CreateNew: true}.Validate())
	assert.Error(t, OpenOptions{}.Validate())
}

func TestMetadataName(t *testing.T) {
	assert.Equal(t, "f.txt", (&Metadata{Path: normpath.New("/a/f.txt")}).Name())
	assert.Equal(t, "b", (&Metadata{Path: normpath.New("/a/b/"), IsDir: true}).Name())
}
