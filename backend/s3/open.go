package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// chunkSize is the multipart buffering threshold. The store requires
// at least 5 MiB for non-final parts; buffering twice that keeps part
// counts low without holding much memory.
const chunkSize = 10 * 1024 * 1024

// simpleFile holds the complete object in memory for reads and small
// writes. Flush uploads the whole buffer and rewrites the timestamp
// tags.
type simpleFile struct {
	fs   *Fs
	key  string
	data []byte
	pos  int64
	meta fs.Metadata
}

func (h *simpleFile) String() string {
	return fmt.Sprintf("s3 file %q", h.key)
}

func (h *simpleFile) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *simpleFile) Write(p []byte) (int, error) {
	end := h.pos + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[h.pos:end], p)
	h.pos = end
	h.meta.Len = int64(len(h.data))
	h.meta.ModifiedNow()
	return len(p), nil
}

func (h *simpleFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = h.pos + offset
	case io.SeekEnd:
		next = int64(len(h.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	h.pos = next
	return next, nil
}

func (h *simpleFile) Metadata(ctx context.Context) (*fs.Metadata, error) {
	m := h.meta
	return &m, nil
}

func (h *simpleFile) Flush(ctx context.Context) error {
	fs.Debugf(h, "flushing %d bytes", len(h.data))
	_, err := h.fs.c.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &h.fs.bucket,
		Key:    &h.key,
		Body:   bytes.NewReader(h.data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", h.key, err)
	}
	return h.fs.putTags(ctx, h.key, &h.meta)
}

// multipartFile is an active multipart upload session. Writes
// accumulate in a rolling buffer; each time the buffer crosses the
// chunk threshold it is uploaded as the next part. Flush uploads the
// remainder (the store allows the final part to be small) and
// completes the upload. Reads and seeks are not supported.
type multipartFile struct {
	fs       *Fs
	ctx      context.Context // the open context, for writes arriving through io.Writer
	key      string
	uploadID string
	parts    []*s3.CompletedPart
	buf      bytes.Buffer
	meta     fs.Metadata
	aborted  bool
}

func newMultipartFile(ctx context.Context, f *Fs, path normpath.Path) (*multipartFile, error) {
	key := fileKey(path)
	out, err := f.c.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload for %q: %w", key, err)
	}
	fs.Debugf(f, "started multipart upload %q for %q", *out.UploadId, key)
	return &multipartFile{
		fs:       f,
		ctx:      ctx,
		key:      key,
		uploadID: *out.UploadId,
		meta:     *fs.NewMetadata(path.AsFile(), false),
	}, nil
}

func (h *multipartFile) String() string {
	return fmt.Sprintf("s3 multipart upload %q", h.key)
}

func (h *multipartFile) Read(p []byte) (int, error) {
	return 0, fs.ErrorNotImplemented
}

func (h *multipartFile) Seek(offset int64, whence int) (int64, error) {
	return 0, fs.ErrorNotImplemented
}

func (h *multipartFile) Write(p []byte) (int, error) {
	h.buf.Write(p)
	h.meta.AddLen(int64(len(p)))
	h.meta.ModifiedNow()
	if h.buf.Len() >= chunkSize {
		if err := h.uploadCurrent(h.ctx); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// uploadCurrent ships the buffered bytes as the next part and clears
// the buffer. On failure the whole upload is aborted.
func (h *multipartFile) uploadCurrent(ctx context.Context) error {
	if h.buf.Len() == 0 && len(h.parts) > 0 {
		return nil
	}
	partNumber := aws.Int64(int64(len(h.parts) + 1))
	out, err := h.fs.c.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     &h.fs.bucket,
		Key:        &h.key,
		UploadId:   &h.uploadID,
		PartNumber: partNumber,
		Body:       bytes.NewReader(h.buf.Bytes()),
	})
	if err != nil {
		h.abort(ctx)
		return fmt.Errorf("failed to upload part %d of %q: %w", *partNumber, h.key, err)
	}
	fs.Debugf(h, "uploaded part %d with %d bytes", *partNumber, h.buf.Len())
	h.parts = append(h.parts, &s3.CompletedPart{
		PartNumber: partNumber,
		ETag:       out.ETag,
	})
	h.buf.Reset()
	return nil
}

func (h *multipartFile) Metadata(ctx context.Context) (*fs.Metadata, error) {
	m := h.meta
	return &m, nil
}

func (h *multipartFile) Flush(ctx context.Context) error {
	if err := h.uploadCurrent(ctx); err != nil {
		return err
	}
	_, err := h.fs.c.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &h.fs.bucket,
		Key:      &h.key,
		UploadId: &h.uploadID,
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: h.parts,
		},
	})
	if err != nil {
		h.abort(ctx)
		return fmt.Errorf("failed to complete multipart upload %q: %w", h.key, err)
	}
	return h.fs.putTags(ctx, h.key, &h.meta)
}

// Abort releases the upload session; the bridge calls it when a
// streaming handle is discarded without a successful Flush.
func (h *multipartFile) Abort(ctx context.Context) error {
	h.abort(ctx)
	return nil
}

// abort best effort cancels the upload session.
func (h *multipartFile) abort(ctx context.Context) {
	if h.aborted {
		return
	}
	h.aborted = true
	_, err := h.fs.c.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   &h.fs.bucket,
		Key:      &h.key,
		UploadId: &h.uploadID,
	})
	if err != nil {
		fs.Errorf(h, "failed to abort multipart upload: %v", err)
	}
}

// Check the interfaces are satisfied
var (
	_ fs.FileHandle = (*simpleFile)(nil)
	_ fs.FileHandle = (*multipartFile)(nil)
	_ fs.Aborter    = (*multipartFile)(nil)
)
