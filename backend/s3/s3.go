// Package s3 maps the hierarchical filesystem contract onto a flat
// S3 compatible object store.
//
// A resource at path P is the object with key P. A collection D/ is
// marked by a zero byte sentinel object with key D/.dir; the sentinel
// is the existence marker for otherwise empty collections. The bucket
// root exists implicitly and carries no sentinel. Modification and
// creation times ride along as object tags ("modified", "created",
// unix seconds as decimal strings).
//
// A resource and a collection can nominally share a name in the store
// (keys "p" and "p/.dir"); probes prefer the collection
// interpretation. External writers that upload ".dir" keys directly
// can confuse this invariant.
package s3

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// sentinelName marks a collection in the object store.
const sentinelName = ".dir"

// Options defines the configuration for this backend.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	EnsureBucket    bool
	AccessKeyID     string
	SecretAccessKey string
}

// Fs represents a remote S3 bucket.
type Fs struct {
	c      *s3.S3
	bucket string
	opt    Options
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("S3 bucket %s", f.bucket)
}

// connection builds the S3 client from the options.
func connection(opt Options) (*s3.S3, error) {
	awsConfig := aws.NewConfig().
		WithS3ForcePathStyle(opt.PathStyle)
	if opt.Region != "" {
		awsConfig = awsConfig.WithRegion(opt.Region)
	} else {
		awsConfig = awsConfig.WithRegion("us-east-1")
	}
	if opt.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(opt.Endpoint)
	}
	if opt.AccessKeyID != "" || opt.SecretAccessKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(opt.AccessKeyID, opt.SecretAccessKey, ""))
	}
	ses, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(ses), nil
}

// NewFs constructs an Fs for the bucket described by opt, optionally
// creating the bucket.
func NewFs(ctx context.Context, opt Options) (*Fs, error) {
	c, err := connection(opt)
	if err != nil {
		return nil, err
	}
	f := &Fs{
		c:      c,
		bucket: opt.Bucket,
		opt:    opt,
	}
	if opt.EnsureBucket {
		if err := f.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ensureBucket creates the bucket, treating "already exists" as
// success. If creation fails for another reason a PUT and DELETE of a
// probe object decides whether the bucket is usable at all.
func (f *Fs) ensureBucket(ctx context.Context) error {
	_, err := f.c.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: &f.bucket,
		ACL:    aws.String(s3.BucketCannedACLPrivate),
	})
	if err == nil {
		fs.Debugf(f, "created bucket")
		return nil
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		switch {
		case reqErr.StatusCode() == 409,
			reqErr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou,
			reqErr.Code() == s3.ErrCodeBucketAlreadyExists:
			return nil
		}
	}
	fs.Debugf(f, "create bucket failed, probing liveness: %v", err)
	probe := ".webdav-ss-probe"
	_, perr := f.c.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &f.bucket,
		Key:    &probe,
		Body:   strings.NewReader(""),
	})
	if perr != nil {
		return fmt.Errorf("failed to create bucket %q: %w", f.bucket, err)
	}
	_, perr = f.c.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &f.bucket,
		Key:    &probe,
	})
	if perr != nil {
		return fmt.Errorf("failed to remove probe object from %q: %w", f.bucket, perr)
	}
	return nil
}

// fileKey is the object key for the resource interpretation of path.
func fileKey(path normpath.Path) string {
	if path.IsRoot() {
		return ""
	}
	return string(path.AsFile())
}

// sentinelKey is the object key marking the collection at path.
func sentinelKey(path normpath.Path) string {
	return string(path.AsDir()) + sentinelName
}

// dirPrefix is the listing prefix for the collection at path.
func dirPrefix(path normpath.Path) string {
	if path.IsRoot() {
		return ""
	}
	return string(path.AsDir())
}

// tagTimes turns a tag set back into timestamps, keeping the
// fallbacks for whichever tag is missing.
func tagTimes(tags []*s3.Tag, fallbackModified, fallbackCreated time.Time) (modified, created time.Time) {
	modified, created = fallbackModified, fallbackCreated
	for _, tag := range tags {
		if tag.Key == nil || tag.Value == nil {
			continue
		}
		secs, err := strconv.ParseInt(*tag.Value, 10, 64)
		if err != nil {
			continue
		}
		switch *tag.Key {
		case "modified":
			modified = time.Unix(secs, 0)
		case "created":
			created = time.Unix(secs, 0)
		}
	}
	return modified, created
}

// timeTags renders the metadata timestamps as a tag set.
func timeTags(meta *fs.Metadata) *s3.Tagging {
	return &s3.Tagging{TagSet: []*s3.Tag{
		{Key: aws.String("modified"), Value: aws.String(strconv.FormatInt(meta.Modified.Unix(), 10))},
		{Key: aws.String("created"), Value: aws.String(strconv.FormatInt(meta.Created.Unix(), 10))},
	}}
}

// putTags writes the timestamp tags for key.
func (f *Fs) putTags(ctx context.Context, key string, meta *fs.Metadata) error {
	_, err := f.c.PutObjectTaggingWithContext(ctx, &s3.PutObjectTaggingInput{
		Bucket:  &f.bucket,
		Key:     &key,
		Tagging: timeTags(meta),
	})
	if err != nil {
		return fmt.Errorf("failed to tag object %q: %w", key, err)
	}
	return nil
}

// getTags reads the timestamp tags for key. Missing tags are not an
// error; the fallbacks (usually the HEAD last-modified) win.
func (f *Fs) getTags(ctx context.Context, key string, fallbackModified, fallbackCreated time.Time) (modified, created time.Time) {
	out, err := f.c.GetObjectTaggingWithContext(ctx, &s3.GetObjectTaggingInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		fs.Debugf(f, "no tags for %q: %v", key, err)
		return fallbackModified, fallbackCreated
	}
	return tagTimes(out.TagSet, fallbackModified, fallbackCreated)
}

// metadataInfo probes path, preferring the collection interpretation
// when both the sentinel and the plain key exist.
func (f *Fs) metadataInfo(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	if path.IsRoot() {
		return fs.NewMetadata(normpath.Root, true), nil
	}

	for _, key := range []string{sentinelKey(path), fileKey(path)} {
		head, err := f.c.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: &f.bucket,
			Key:    aws.String(key),
		})
		if err != nil {
			fs.Debugf(f, "head %q failed, trying next: %v", key, err)
			continue
		}
		isDir := strings.HasSuffix(key, sentinelName)
		meta := &fs.Metadata{
			Path:     path,
			IsDir:    isDir,
			Modified: time.Now(),
			Created:  time.Now(),
		}
		if isDir {
			meta.Path = path.AsDir()
		} else {
			if head.ContentLength != nil {
				meta.Len = *head.ContentLength
			}
			if head.LastModified != nil {
				meta.Modified = *head.LastModified
				meta.Created = *head.LastModified
			}
			meta.Modified, meta.Created = f.getTags(ctx, key, meta.Modified, meta.Created)
		}
		return meta, nil
	}
	return nil, fs.ErrorNotFound
}

// Metadata probes path.
func (f *Fs) Metadata(ctx context.Context, path normpath.Path) (*fs.Metadata, error) {
	return f.metadataInfo(ctx, path)
}

// listLevel lists one collection level with the delimiter, returning
// sub-collections and resources. Sentinels are filtered from the
// resource stream.
func (f *Fs) listLevel(ctx context.Context, path normpath.Path) (dirs []string, files []*s3.Object, err error) {
	prefix := dirPrefix(path)
	err = f.c.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    &f.bucket,
		Prefix:    &prefix,
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				dirs = append(dirs, *cp.Prefix)
			}
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, sentinelName) {
				continue
			}
			files = append(files, obj)
		}
		return true
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return dirs, files, nil
}

// ReadDir lists the collection at path.
func (f *Fs) ReadDir(ctx context.Context, path normpath.Path) ([]fs.DirEntry, error) {
	meta, err := f.metadataInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if !meta.IsDir {
		return nil, fs.ErrorForbidden
	}

	dirs, files, err := f.listLevel(ctx, path)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, 0, len(dirs)+len(files))
	for _, prefix := range dirs {
		p := normpath.Path(prefix)
		m := fs.NewMetadata(p, true)
		entries = append(entries, fs.DirEntry{Name: p.Name() + "/", Meta: m})
	}
	for _, obj := range files {
		p := normpath.Path(*obj.Key)
		m := &fs.Metadata{Path: p}
		if obj.Size != nil {
			m.Len = *obj.Size
		}
		if obj.LastModified != nil {
			m.Modified = *obj.LastModified
			m.Created = *obj.LastModified
		}
		entries = append(entries, fs.DirEntry{Name: p.Name(), Meta: m})
	}
	return entries, nil
}

// Open opens the resource at path.
//
// With Create set the returned handle streams a multipart upload;
// otherwise the object body is fetched with a single GET into a
// buffered handle.
func (f *Fs) Open(ctx context.Context, path normpath.Path, opts fs.OpenOptions) (fs.FileHandle, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	meta, err := f.metadataInfo(ctx, path)
	exists := err == nil
	if exists && meta.IsDir {
		fs.Debugf(f, "tried to open collection %q", path)
		return nil, fs.ErrorForbidden
	}
	if exists && opts.CreateNew {
		return nil, fs.ErrorExists
	}
	if !exists && !opts.Create {
		return nil, fs.ErrorNotFound
	}

	if opts.Create {
		return newMultipartFile(ctx, f, path)
	}

	key := fileKey(path)
	obj, err := f.c.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	defer func() { _ = obj.Body.Close() }()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}

	h := &simpleFile{
		fs:   f,
		key:  key,
		data: data,
		meta: *meta,
	}
	if opts.Truncate {
		h.data = nil
		h.meta.Len = 0
	}
	if opts.Append {
		h.pos = int64(len(h.data))
	}
	return h, nil
}

// CreateDir creates the collection at path by writing its sentinel.
func (f *Fs) CreateDir(ctx context.Context, path normpath.Path) error {
	dir := path.AsDir()
	if dir.IsRoot() {
		return nil
	}
	if meta, err := f.metadataInfo(ctx, dir); err == nil && meta.IsDir {
		return fs.ErrorExists
	}

	parent := dir.Parent()
	if !parent.IsRoot() {
		meta, err := f.metadataInfo(ctx, parent)
		if err != nil {
			fs.Debugf(f, "parent collection %q does not exist", parent)
			return fs.ErrorNotFound
		}
		if !meta.IsDir {
			fs.Debugf(f, "tried to create collection under resource %q", parent)
			return fs.ErrorForbidden
		}
	}
	return f.putSentinel(ctx, dir)
}

// putSentinel writes the zero byte collection marker for dir.
func (f *Fs) putSentinel(ctx context.Context, dir normpath.Path) error {
	key := sentinelKey(dir)
	_, err := f.c.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &f.bucket,
		Key:    &key,
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection marker %q: %w", key, err)
	}
	return nil
}

// deleteKey removes one object.
func (f *Fs) deleteKey(ctx context.Context, key string) error {
	_, err := f.c.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// RemoveFile removes the resource at path.
func (f *Fs) RemoveFile(ctx context.Context, path normpath.Path) error {
	meta, err := f.metadataInfo(ctx, path)
	if err != nil {
		return err
	}
	if meta.IsDir {
		fs.Debugf(f, "tried to remove collection %q as resource", path)
		return fs.ErrorForbidden
	}
	return f.deleteKey(ctx, fileKey(path))
}

// RemoveDir removes the collection marker at path. Descendants are
// untouched; emptying the collection first is the caller's
// responsibility.
func (f *Fs) RemoveDir(ctx context.Context, path normpath.Path) error {
	meta, err := f.metadataInfo(ctx, path)
	if err != nil {
		return err
	}
	if !meta.IsDir {
		fs.Debugf(f, "tried to remove resource %q as collection", path)
		return fs.ErrorForbidden
	}
	return f.deleteKey(ctx, sentinelKey(path))
}

// copyKey issues the store's server side copy.
func (f *Fs) copyKey(ctx context.Context, srcKey, dstKey string) error {
	source := normpath.Path(f.bucket + "/" + srcKey).Encode()
	_, err := f.c.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     &f.bucket,
		Key:        &dstKey,
		CopySource: &source,
	})
	if err != nil {
		return fmt.Errorf("failed to copy %q to %q: %w", srcKey, dstKey, err)
	}
	return nil
}

// Copy copies a single resource or collection marker. A file to
// collection copy degrades to file to file, adopting the target's
// name; a collection to collection copy targets the sentinel pair.
func (f *Fs) Copy(ctx context.Context, from, to normpath.Path) error {
	srcMeta, err := f.metadataInfo(ctx, from)
	if err != nil {
		return err
	}

	var srcKey, dstKey string
	if srcMeta.IsDir {
		from, to = from.AsDir(), to.AsDir()
		srcKey, dstKey = sentinelKey(from), sentinelKey(to)
	} else {
		from, to = from.AsFile(), to.AsFile()
		srcKey, dstKey = fileKey(from), fileKey(to)
	}

	parent := to.AsDir().Parent()
	if !parent.IsRoot() {
		if _, err := f.metadataInfo(ctx, parent); err != nil {
			if err := f.putSentinel(ctx, parent); err != nil {
				return err
			}
		}
	}
	return f.copyKey(ctx, srcKey, dstKey)
}

// walkResult is the breadth first traversal of a source collection:
// every descendant collection in discovery order and every descendant
// resource.
type walkResult struct {
	dirs  []normpath.Path
	files []normpath.Path
}

// walk traverses the tree below dir breadth first.
func (f *Fs) walk(ctx context.Context, dir normpath.Path) (*walkResult, error) {
	result := &walkResult{}
	queue := []normpath.Path{dir.AsDir()}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result.dirs = append(result.dirs, current)

		subdirs, files, err := f.listLevel(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, prefix := range subdirs {
			queue = append(queue, normpath.Path(prefix))
		}
		for _, obj := range files {
			result.files = append(result.files, normpath.Path(*obj.Key))
		}
	}
	return result, nil
}

// removeTree removes every resource and collection marker below dir,
// then dir's own marker.
func (f *Fs) removeTree(ctx context.Context, dir normpath.Path) error {
	tree, err := f.walk(ctx, dir)
	if err != nil {
		return err
	}
	for _, file := range tree.files {
		if err := f.deleteKey(ctx, fileKey(file)); err != nil {
			return err
		}
	}
	for i := len(tree.dirs) - 1; i >= 0; i-- {
		if err := f.deleteKey(ctx, sentinelKey(tree.dirs[i])); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves from to to. Collections are moved by mirroring the
// tree: create every destination collection, copy and delete every
// resource pair, then remove the source collections deepest first.
func (f *Fs) Rename(ctx context.Context, from, to normpath.Path) error {
	srcMeta, err := f.metadataInfo(ctx, from)
	if err != nil {
		return err
	}
	dstMeta, dstErr := f.metadataInfo(ctx, to)
	dstExists := dstErr == nil

	if !srcMeta.IsDir {
		from, to = from.AsFile(), to.AsFile()
		if dstExists && dstMeta.IsDir {
			// clear the collection occupying the destination
			if err := f.removeTree(ctx, to.AsDir()); err != nil {
				return err
			}
		}
		if err := f.copyKey(ctx, fileKey(from), fileKey(to)); err != nil {
			return err
		}
		return f.deleteKey(ctx, fileKey(from))
	}

	if dstExists && !dstMeta.IsDir {
		if err := f.deleteKey(ctx, fileKey(to.AsFile())); err != nil {
			return err
		}
	}
	from, to = from.AsDir(), to.AsDir()

	tree, err := f.walk(ctx, from)
	if err != nil {
		return err
	}

	mirror := func(p normpath.Path) normpath.Path {
		rel := p.StripPrefix(from)
		if rel == p {
			return to
		}
		return normpath.Path(string(to) + string(rel))
	}

	for _, dir := range tree.dirs {
		if err := f.putSentinel(ctx, mirror(dir)); err != nil {
			return err
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, file := range tree.files {
		file := file
		g.Go(func() error {
			if err := f.copyKey(gCtx, fileKey(file), fileKey(mirror(file).AsFile())); err != nil {
				return err
			}
			return f.deleteKey(gCtx, fileKey(file))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := len(tree.dirs) - 1; i >= 0; i-- {
		if err := f.deleteKey(ctx, sentinelKey(tree.dirs[i])); err != nil {
			return err
		}
	}
	return nil
}

// Check the interfaces are satisfied
var _ fs.Backend = (*Fs)(nil)
