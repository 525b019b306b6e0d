// Package storage defines the ObjectStore interface for S3-compatible object
// storage used by the Reflector pipeline.
//
// An object store holds raw recording tracks, padded intermediate tracks, and
// final mixdowns. Implementations wrap a concrete backend (AWS S3, an
// S3-compatible server behind a custom endpoint) and expose uniform get, put,
// presign, stream, list, and delete operations. Every operation accepts a
// per-call bucket override so the pipeline can read source tracks from the
// recorder's bucket while writing artifacts to its own.
//
// Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is wrapped by implementations when an object or bucket does not
// exist. Callers should test with errors.Is.
var ErrNotFound = errors.New("object not found")

// PermissionError reports a denied store operation. It is never retried:
// access does not come back by trying again.
type PermissionError struct {
	// Bucket is the bucket the operation targeted.
	Bucket string

	// Op is the failed operation ("get", "put", "delete", "list", "presign").
	Op string

	// Err is the underlying backend error.
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("storage: %s on bucket %q denied: %v", e.Op, e.Bucket, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// IsPermission reports whether err is (or wraps) a [PermissionError].
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// ObjectInfo describes one stored object as returned by List.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Options carries per-call settings. Construct via [Option] values.
type Options struct {
	// Bucket overrides the store's default bucket for this call.
	Bucket string

	// ContentType sets the stored object's content type on Put.
	ContentType string
}

// Option mutates per-call [Options].
type Option func(*Options)

// WithBucket overrides the default bucket for a single call.
func WithBucket(name string) Option {
	return func(o *Options) { o.Bucket = name }
}

// WithContentType sets the content type recorded with an uploaded object.
func WithContentType(ct string) Option {
	return func(o *Options) { o.ContentType = ct }
}

// Apply folds opts into an Options value. Used by implementations.
func Apply(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ObjectStore is the uniform interface over S3-compatible storage backends.
type ObjectStore interface {
	// Put uploads body under key. Large bodies are streamed; callers should
	// not buffer files in memory when an io.Reader over disk is available.
	Put(ctx context.Context, key string, body io.Reader, opts ...Option) error

	// Get downloads the object at key into memory. Use Stream for large objects.
	Get(ctx context.Context, key string, opts ...Option) ([]byte, error)

	// Stream opens the object at key for reading. The caller must close the
	// returned reader.
	Stream(ctx context.Context, key string, opts ...Option) (io.ReadCloser, error)

	// Presign returns a time-limited GET URL for the object at key. The URL
	// is handed to remote inference services so audio never proxies through
	// this process.
	Presign(ctx context.Context, key string, expiry time.Duration, opts ...Option) (string, error)

	// List returns all objects under prefix, in lexicographic key order.
	List(ctx context.Context, prefix string, opts ...Option) ([]ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing object is not an
	// error; consent cleanup relies on delete being idempotent.
	Delete(ctx context.Context, key string, opts ...Option) error
}
