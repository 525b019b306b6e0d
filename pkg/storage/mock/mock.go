// Package mock provides an in-memory test double for storage.ObjectStore.
//
// Objects live in a map keyed by "bucket/key". Presigned URLs are synthetic
// ("mock://bucket/key") and deletes are recorded so tests can assert exactly
// which objects the consent cleanup removed.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reflector-media/reflector/pkg/storage"
)

// Store is a mock implementation of storage.ObjectStore.
// The zero value is not usable; construct with [New].
type Store struct {
	mu sync.Mutex

	// DefaultBucket is used when a call carries no bucket override.
	DefaultBucket string

	// FailOps maps "op:bucket" to the error returned for that operation on
	// that bucket, letting tests inject permission failures for one bucket
	// while others keep working.
	FailOps map[string]error

	objects map[string][]byte

	// Deletes records every Delete call as "bucket/key" in call order.
	Deletes []string

	// Puts records every Put call as "bucket/key" in call order.
	Puts []string
}

var _ storage.ObjectStore = (*Store)(nil)

// New creates a mock store with the given default bucket.
func New(defaultBucket string) *Store {
	return &Store{
		DefaultBucket: defaultBucket,
		FailOps:       make(map[string]error),
		objects:       make(map[string][]byte),
	}
}

// Seed places an object directly into the store.
func (s *Store) Seed(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
}

// Has reports whether bucket/key currently exists.
func (s *Store) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[bucket+"/"+key]
	return ok
}

func (s *Store) bucketFor(opts []storage.Option) string {
	if o := storage.Apply(opts); o.Bucket != "" {
		return o.Bucket
	}
	return s.DefaultBucket
}

func (s *Store) failure(op, bucket string) error {
	if err, ok := s.FailOps[op+":"+bucket]; ok {
		return err
	}
	return nil
}

// Put implements storage.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, opts ...storage.Option) error {
	bucket := s.bucketFor(opts)
	if err := s.failure("put", bucket); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
	s.Puts = append(s.Puts, bucket+"/"+key)
	return nil
}

// Get implements storage.ObjectStore.
func (s *Store) Get(ctx context.Context, key string, opts ...storage.Option) ([]byte, error) {
	bucket := s.bucketFor(opts)
	if err := s.failure("get", bucket); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("mock: get %s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Stream implements storage.ObjectStore.
func (s *Store) Stream(ctx context.Context, key string, opts ...storage.Option) (io.ReadCloser, error) {
	data, err := s.Get(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Presign implements storage.ObjectStore. The returned URL is synthetic and
// stable so tests can assert on it.
func (s *Store) Presign(ctx context.Context, key string, expiry time.Duration, opts ...storage.Option) (string, error) {
	bucket := s.bucketFor(opts)
	if err := s.failure("presign", bucket); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[bucket+"/"+key]; !ok {
		return "", fmt.Errorf("mock: presign %s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return "mock://" + bucket + "/" + key, nil
}

// List implements storage.ObjectStore.
func (s *Store) List(ctx context.Context, prefix string, opts ...storage.Option) ([]storage.ObjectInfo, error) {
	bucket := s.bucketFor(opts)
	if err := s.failure("list", bucket); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []storage.ObjectInfo
	for full, data := range s.objects {
		b, key, _ := strings.Cut(full, "/")
		if b != bucket || !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(data))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete implements storage.ObjectStore. Missing keys are not an error,
// matching the S3 backend.
func (s *Store) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	bucket := s.bucketFor(opts)
	if err := s.failure("delete", bucket); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	s.Deletes = append(s.Deletes, bucket+"/"+key)
	return nil
}
