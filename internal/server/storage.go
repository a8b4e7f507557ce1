package server

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore/miniodriver"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore/s3driver"
	"github.com/dmitrijs2005/repostore/internal/server/config"
)

// newDriver builds the byte driver of one storage credential.
func newDriver(ctx context.Context, c config.StorageCredential) (blobstore.Driver, error) {
	switch c.Type {
	case config.StorageMemory:
		return blobstore.NewMemoryDriver(), nil
	case config.StorageS3:
		return s3driver.New(ctx, s3driver.Config{
			Endpoint:     c.Endpoint,
			Region:       c.Region,
			Bucket:       c.Bucket,
			AccessKey:    c.AccessKey,
			SecretKey:    c.SecretKey,
			Prefix:       c.Prefix,
			UsePathStyle: c.UsePathStyle,
		})
	case config.StorageMinio:
		return miniodriver.New(miniodriver.Config{
			Endpoint:  c.Endpoint,
			Bucket:    c.Bucket,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Region:    c.Region,
			Prefix:    c.Prefix,
			UseSSL:    c.UseSSL,
		})
	}
	return nil, fmt.Errorf("unknown storage type %q: %w", c.Type, common.ErrInvalidInput)
}

// buildStores registers a blob store for every configured credential.
func buildStores(ctx context.Context, cfg *config.Config, locator *digest.Locator) (*blobstore.Registry, error) {
	stores := blobstore.NewRegistry(cfg.DefaultCredentialsKey)
	for _, c := range cfg.Storages {
		driver, err := newDriver(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("storage %s: %w", c.Key, err)
		}
		codec, err := blobstore.ParseCodec(c.Codec)
		if err != nil {
			return nil, fmt.Errorf("storage %s: %w", c.Key, err)
		}
		stores.Register(c.Key, blobstore.New(driver, codec, locator))
	}
	return stores, nil
}
