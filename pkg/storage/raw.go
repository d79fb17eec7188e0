package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"

	"snapmem/pkg/archive"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
)

// RawStore keeps the unmodified components of every memory, keyed
// <ID>/<name>
type RawStore struct {
	bucket *blob.Bucket
	logger logger.Logger
}

// DirBucketURL returns a fileblob URL rooted at dir, creating it on open
func DirBucketURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve raw directory: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "create_dir=true&metadata=skip",
	}
	return u.String(), nil
}

// OpenRawStore opens the bucket at bucketURL. Any gocloud scheme registered
// in the binary works; fileblob is always available.
func OpenRawStore(ctx context.Context, bucketURL string, log logger.Logger) (*RawStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errs.Filesystem(fmt.Sprintf("open raw bucket %s", bucketURL), err)
	}
	return NewRawStore(bucket, log), nil
}

// OpenRawOutput opens bucketURL when set and a fileblob bucket at dir
// otherwise
func OpenRawOutput(ctx context.Context, dir, bucketURL string, log logger.Logger) (*RawStore, error) {
	if bucketURL == "" {
		var err error
		if bucketURL, err = DirBucketURL(dir); err != nil {
			return nil, errs.Filesystem("raw directory", err)
		}
	}
	return OpenRawStore(ctx, bucketURL, log)
}

// NewRawStore wraps an already opened bucket
func NewRawStore(bucket *blob.Bucket, log logger.Logger) *RawStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RawStore{bucket: bucket, logger: log}
}

// Key is the object key for one component of a memory
func Key(entryID, name string) string {
	return path.Join(entryID, path.Base(filepath.ToSlash(name)))
}

// Put stores one component
func (r *RawStore) Put(ctx context.Context, entryID, name string, data []byte) error {
	key := Key(entryID, name)
	if err := r.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return errs.Filesystem(fmt.Sprintf("write raw component %s", key), err)
	}
	return nil
}

// PutBundle stores every member of an extracted archive
func (r *RawStore) PutBundle(ctx context.Context, entryID string, b archive.Bundle) error {
	for _, m := range b.Members {
		if err := r.Put(ctx, entryID, m.Name, m.Data); err != nil {
			return err
		}
	}
	return nil
}

// Get reads one component back
func (r *RawStore) Get(ctx context.Context, entryID, name string) ([]byte, error) {
	data, err := r.bucket.ReadAll(ctx, Key(entryID, name))
	if err != nil {
		return nil, errs.Filesystem("read raw component", err)
	}
	return data, nil
}

// Keys lists the stored keys for one memory
func (r *RawStore) Keys(ctx context.Context, entryID string) ([]string, error) {
	iter := r.bucket.List(&blob.ListOptions{Prefix: entryID + "/"})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Filesystem("list raw components", err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (r *RawStore) Close() error {
	return r.bucket.Close()
}
