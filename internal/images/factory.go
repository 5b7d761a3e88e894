package images

import (
	"context"
	"fmt"

	"veganagain/internal/cache"
	"veganagain/internal/config"
)

// New picks the store named by cfg.Provider. uploader is only used by the
// "backend" provider.
func New(ctx context.Context, cfg config.ImagesConfig, uploader Uploader) (Store, error) {
	switch cfg.Provider {
	case "", "inline":
		return Inline{}, nil
	case "backend":
		if uploader == nil {
			return nil, fmt.Errorf("backend image provider needs an uploader")
		}
		return BackendUpload{Uploader: uploader}, nil
	case "azure":
		client, err := cache.NewBlobClient(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, fmt.Errorf("azure image store: %w", err)
		}
		return NewBlobStore(client, cfg.AzureContainer), nil
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.S3PresignTTL)
	}
	return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
}
