// Package artifact stores session files in a gocloud.dev blob bucket. The
// default is a local directory; s3://, gs:// and mem:// URLs are also accepted.
package artifact

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	// Register the remaining bucket URL schemes.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

// BucketStore implements storage.ArtifactStore on top of a blob bucket.
type BucketStore struct {
	bucket *blob.Bucket
}

var _ storage.ArtifactStore = (*BucketStore)(nil)

// NewBucketStore wraps an already opened bucket.
func NewBucketStore(bucket *blob.Bucket) *BucketStore {
	return &BucketStore{bucket: bucket}
}

// Open opens bucketURL when set, otherwise the local directory dir. Local
// buckets write no attribute sidecars, so the tree is exactly
// <dir>/<index>/<file>.
func Open(ctx context.Context, bucketURL, dir string) (*BucketStore, error) {
	if bucketURL != "" {
		b, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}

		return NewBucketStore(b), nil
	}

	b, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		// Temp files live next to their target so the final rename stays on one device.
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open download directory %s: %w", dir, err)
	}

	return NewBucketStore(b), nil
}

func (s *BucketStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return false, &transfer.StorageError{Key: key, Reason: "existence check failed", Err: err}
	}

	return ok, nil
}

// Put streams r into key. The blob writer commits on Close, so a cancelled or
// failed write leaves no object behind.
func (s *BucketStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return 0, &transfer.StorageError{Key: key, Reason: "open writer", Err: err}
	}

	n, err := io.Copy(w, r)
	if err != nil {
		// Cancelling before Close aborts the write.
		cancel()
		_ = w.Close()

		return n, &transfer.StorageError{Key: key, Reason: "write failed", Err: err}
	}

	if err := w.Close(); err != nil {
		return n, &transfer.StorageError{Key: key, Reason: "commit failed", Err: err}
	}

	return n, nil
}

// ReadAll returns the content stored under key.
func (s *BucketStore) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, &transfer.StorageError{Key: key, Reason: "read failed", Err: err}
	}

	return data, nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}
