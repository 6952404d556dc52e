package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Filesystem keeps every bucket as a directory under root of an afero
// filesystem. Keys map to nested paths.
type Filesystem struct {
	fs   afero.Fs
	root string
}

var _ ObjectStore = (*Filesystem)(nil)

func NewFilesystem(fs afero.Fs, root string) *Filesystem {
	if root == "" {
		root = "."
	}
	return &Filesystem{fs: fs, root: root}
}

// NewOSFilesystem stores objects on the local disk under root.
func NewOSFilesystem(root string) *Filesystem {
	return NewFilesystem(afero.NewOsFs(), root)
}

// NewMemFilesystem keeps objects in process memory.
func NewMemFilesystem() *Filesystem {
	return NewFilesystem(afero.NewMemMapFs(), "/")
}

func (f *Filesystem) bucketPath(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return path.Join(f.root, bucket), nil
}

func (f *Filesystem) objectPath(bucket, key string) (string, error) {
	dir, err := f.bucketPath(bucket)
	if err != nil {
		return "", err
	}
	// keys are used as given; anything path.Clean would rewrite is refused
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key || strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return path.Join(dir, clean), nil
}

func (f *Filesystem) BucketExists(ctx context.Context, bucket string) (bool, error) {
	dir, err := f.bucketPath(bucket)
	if err != nil {
		return false, err
	}
	return afero.DirExists(f.fs, dir)
}

func (f *Filesystem) CreateBucket(ctx context.Context, bucket string) error {
	dir, err := f.bucketPath(bucket)
	if err != nil {
		return err
	}
	exists, err := afero.DirExists(f.fs, dir)
	if err != nil {
		return err
	}
	if exists {
		return ErrBucketExists
	}
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

func (f *Filesystem) Upload(ctx context.Context, bucket, key string, r io.Reader) (int64, error) {
	p, err := f.objectPath(bucket, key)
	if err != nil {
		return 0, err
	}
	if err := f.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}

	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating object %s: %w", key, err)
	}
	n, err := io.Copy(file, &contextReader{ctx: ctx, r: r})
	if err != nil {
		file.Close()
		_ = f.fs.Remove(p)
		return n, fmt.Errorf("writing object %s: %w", key, err)
	}
	if err := file.Close(); err != nil {
		_ = f.fs.Remove(p)
		return n, fmt.Errorf("closing object %s: %w", key, err)
	}
	return n, nil
}

func (f *Filesystem) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := f.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, err
	}
	return file, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
