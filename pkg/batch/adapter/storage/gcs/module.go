package gcs

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
)

// Module is the Fx module for the GCS storage adapter.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func() *GCSProvider { return NewGCSProvider() },
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
