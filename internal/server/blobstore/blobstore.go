// Package blobstore is the byte-storage boundary of the server. A Driver
// stores raw objects under relative paths; Store layers digests and archive
// compression on top of any driver.
package blobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/digest"
)

// Driver is implemented by the S3, MinIO and in-memory backends.
// Get returns common.ErrBlobNotFound for missing objects and Delete is a
// no-op for them. Other failures wrap common.ErrUnavailable.
type Driver interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Ping(ctx context.Context) error
}

// BlobStore is what the archive engine, block reader and jobs consume.
type BlobStore interface {
	// Put stores data and returns its hex digest.
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)

	// Compress writes the archived form of path next to it and returns the
	// compressed path and size. The original is left in place.
	Compress(ctx context.Context, path string, dict []byte) (string, int64, error)
	// Decompress restores the original next to compressedPath and returns
	// its path. The compressed copy is left in place.
	Decompress(ctx context.Context, compressedPath string, dict []byte) (string, error)
	// Inflate decodes compressedPath without writing anything.
	Inflate(ctx context.Context, compressedPath string, dict []byte) ([]byte, error)

	// CompressedPath is where Compress puts the archived form of path.
	CompressedPath(path string) string
	CodecName() string
	Ping(ctx context.Context) error
}

// Store implements BlobStore over a Driver and a Codec.
type Store struct {
	driver  Driver
	codec   Codec
	locator *digest.Locator
}

func New(driver Driver, codec Codec, locator *digest.Locator) *Store {
	return &Store{driver: driver, codec: codec, locator: locator}
}

func (s *Store) Put(ctx context.Context, path string, data []byte) (string, error) {
	if err := s.driver.Put(ctx, path, data); err != nil {
		return "", err
	}
	return s.locator.FromBytes(data), nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	return s.driver.Get(ctx, path)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.driver.Delete(ctx, path)
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	return s.driver.Exists(ctx, path)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) CodecName() string {
	return s.codec.Name()
}

func (s *Store) CompressedPath(path string) string {
	return digest.CompressedPath(path, s.codec.Ext())
}

func (s *Store) Compress(ctx context.Context, path string, dict []byte) (string, int64, error) {
	data, err := s.driver.Get(ctx, path)
	if err != nil {
		return "", 0, err
	}
	enc, err := s.codec.Encode(data, dict)
	if err != nil {
		return "", 0, err
	}
	cp := s.CompressedPath(path)
	if err := s.driver.Put(ctx, cp, enc); err != nil {
		return "", 0, err
	}
	return cp, int64(len(enc)), nil
}

func (s *Store) Inflate(ctx context.Context, compressedPath string, dict []byte) ([]byte, error) {
	enc, err := s.driver.Get(ctx, compressedPath)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(enc, dict)
}

func (s *Store) Decompress(ctx context.Context, compressedPath string, dict []byte) (string, error) {
	suffix := "." + s.codec.Ext()
	if !strings.HasSuffix(compressedPath, suffix) {
		return "", fmt.Errorf("%q is not a %s archive: %w", compressedPath, s.codec.Name(), common.ErrInvalidInput)
	}
	data, err := s.Inflate(ctx, compressedPath, dict)
	if err != nil {
		return "", err
	}
	original := strings.TrimSuffix(compressedPath, suffix)
	if err := s.driver.Put(ctx, original, data); err != nil {
		return "", err
	}
	return original, nil
}
