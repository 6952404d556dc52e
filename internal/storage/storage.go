// Package storage holds the object stores artifacts are uploaded to.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBucketExists   = errors.New("bucket already exists")
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStore is a flat key space split in buckets.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// CreateBucket returns ErrBucketExists when the bucket is already there.
	CreateBucket(ctx context.Context, bucket string) error
	// Upload streams r under key and returns the number of bytes written.
	Upload(ctx context.Context, bucket, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
