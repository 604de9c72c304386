package infrastorage

import (
	"context"
	"fmt"

	"itchdl/shared/config"
	"itchdl/shared/domain/observability"
	"itchdl/shared/domain/storage"
	"itchdl/shared/infrastructure/storage/adapters/fs"
	"itchdl/shared/infrastructure/storage/adapters/s3"
)

type Factory struct {
	ctx     context.Context
	logger  observability.Logger
	metrics observability.Metrics
}

func NewFactory(ctx context.Context, logger observability.Logger, metrics observability.Metrics) storage.StorageFactory {
	if logger == nil || metrics == nil {
		panic("logger and metrics are required for storage factory")
	}
	return &Factory{
		ctx:     ctx,
		logger:  logger,
		metrics: metrics,
	}
}

func (f *Factory) Create(cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Provider {
	case "s3":
		f.logger.Info("Creating S3 storage adapter",
			"bucket", cfg.Storage.S3.Bucket,
			"prefix", cfg.Storage.S3.Prefix,
			"region", cfg.Storage.S3.Region)
		client, err := s3.New(f.ctx, &cfg.Storage, f.logger, f.metrics)
		if err != nil {
			return nil, err
		}
		return client, nil

	case "filesystem", "":
		f.logger.Info("Creating filesystem storage adapter",
			"path", cfg.Download.Dir)
		store, err := fs.NewStorage(cfg.Download.Dir, f.logger, f.metrics)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage adapter: %s", cfg.Storage.Provider)
	}
}
