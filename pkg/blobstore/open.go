package blobstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/types"
)

// openGCS is set by the gcp build
var openGCS func(ctx context.Context, bucket, prefix string) (Store, error)

// LocalRoot is where a tenant's blobs live in development
func LocalRoot(baseDir string) string {
	return filepath.Join(baseDir, ".internal", "blobs")
}

// Open builds the Store for a tenant. Tenants with object storage use the
// remote bucket; the others use the local tree under baseDir.
func Open(ctx context.Context, tc types.TenantConfig, baseDir string) (Store, error) {
	osc := tc.ObjectStorage
	if osc == nil {
		if baseDir == "" {
			return nil, fmt.Errorf("tenant %s has neither object storage nor a base dir", tc.Name)
		}
		return NewLocalStore(LocalRoot(baseDir))
	}

	switch osc.Provider {
	case "", "s3":
		cfg := S3StoreConfig{
			Bucket:   osc.Bucket,
			Region:   osc.Region,
			Endpoint: osc.Endpoint,
		}
		if tc.Secrets != nil && tc.Secrets.AWS != nil {
			cfg.AccessKeyID = tc.Secrets.AWS.AccessKeyID
			cfg.SecretAccessKey = tc.Secrets.AWS.SecretAccessKey
		}
		return NewS3Store(ctx, cfg)
	case "gcs":
		if openGCS == nil {
			return nil, fmt.Errorf("tenant %s: gcs support not compiled in (build with -tags gcp)", tc.Name)
		}
		return openGCS(ctx, osc.Bucket, "")
	default:
		return nil, fmt.Errorf("tenant %s: unknown object storage provider %q", tc.Name, osc.Provider)
	}
}
