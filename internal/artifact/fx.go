// Package artifact stores generated and signed report documents.
package artifact

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/smallbiznis/auditfile/internal/config"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("artifact",
	fx.Provide(NewStore),
)

// NewStore selects the backend configured by STORAGE_BACKEND.
func NewStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (reportdomain.ArtifactStore, error) {
	log = log.Named("artifact")

	switch cfg.Storage.Backend {
	case config.StorageBackendGCS:
		if cfg.Storage.GCSBucket == "" {
			return nil, fmt.Errorf("STORAGE_GCS_BUCKET is required for the gcs backend")
		}
		client, err := storage.NewClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
		log.Info("using gcs artifact store", zap.String("bucket", cfg.Storage.GCSBucket))
		return NewGCSStore(client, cfg.Storage.GCSBucket, cfg.Storage.GCSPrefix), nil

	case config.StorageBackendLocal, "":
		store, err := NewLocalStore(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("using local artifact store", zap.String("dir", cfg.Storage.Dir))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
