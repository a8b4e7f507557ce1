// Package miniodriver stores blobs in a MinIO bucket through minio-go.
package miniodriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectAPI is the subset of *minio.Client the driver uses, with GetObject
// narrowed to io.ReadCloser so tests need not build *minio.Object.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

type clientAdapter struct {
	*minio.Client
}

func (c clientAdapter) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucket, object, opts)
}

var newMinioClient = func(endpoint string, opts *minio.Options) (objectAPI, error) {
	c, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, err
	}
	return clientAdapter{c}, nil
}

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
}

type Driver struct {
	client objectAPI
	bucket string
	prefix string
}

func New(c Config) (*Driver, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is not configured: %w", common.ErrInvalidInput)
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is not configured: %w", common.ErrInvalidInput)
	}

	client, err := newMinioClient(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &Driver{client: client, bucket: c.Bucket, prefix: c.Prefix}, nil
}

func (d *Driver) key(p string) string {
	if d.prefix == "" {
		return p
	}
	return path.Join(d.prefix, p)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func unavailable(op, p string, err error) error {
	return fmt.Errorf("minio %s %s: %w: %w", op, p, common.ErrUnavailable, err)
}

func (d *Driver) Put(ctx context.Context, p string, data []byte) error {
	_, err := d.client.PutObject(ctx, d.bucket, d.key(p), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return unavailable("put", p, err)
	}
	return nil
}

func (d *Driver) Get(ctx context.Context, p string) ([]byte, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, d.key(p), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, common.ErrBlobNotFound)
		}
		return nil, unavailable("get", p, err)
	}
	defer obj.Close()

	// minio reports a missing key on first read, not on GetObject
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, common.ErrBlobNotFound)
		}
		return nil, unavailable("read", p, err)
	}
	return data, nil
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	err := d.client.RemoveObject(ctx, d.bucket, d.key(p), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return unavailable("delete", p, err)
	}
	return nil
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, d.key(p), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, unavailable("stat", p, err)
	}
	return true, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	ok, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return unavailable("ping", d.bucket, err)
	}
	if !ok {
		return fmt.Errorf("minio bucket %s does not exist: %w", d.bucket, common.ErrUnavailable)
	}
	return nil
}
