package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// StorageParams receives every registered storage provider.
type StorageParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Providers []storage.StorageProvider `group:"storage_providers"`
}

// ProvideArtifactStore opens the store selected by serendip.storage.type.
func ProvideArtifactStore(p StorageParams) (storage.ArtifactStore, error) {
	want := p.Config.Serendip.Storage.Type
	for _, provider := range p.Providers {
		if provider.Type() != want {
			continue
		}
		store, err := provider.Open(context.Background(), p.Config)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return store.Close() },
		})
		logger.Debugf("Artifact store '%s' opened.", want)
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage type: %s", want)
}

// ProvideArtifactWriter writes images and metadata into the artifact store.
func ProvideArtifactWriter(store storage.ArtifactStore) *writer.ArtifactWriter {
	return writer.NewArtifactWriter(store)
}

// ProvideRegistryLoader loads the profile registry once, on first use.
func ProvideRegistryLoader(cfg *config.Config) usecase.RegistryLoader {
	var (
		once sync.Once
		reg  *registry.Registry
		err  error
	)
	return func() (*registry.Registry, error) {
		once.Do(func() {
			reg, err = registry.Load(cfg.ProfileDir())
		})
		return reg, err
	}
}

// ProvideRegistry gives the executors a registry for domain checks. A profile
// without registry files yields nil, which disables those checks.
func ProvideRegistry(load usecase.RegistryLoader) *registry.Registry {
	reg, err := load()
	if err != nil {
		logger.Debugf("Registry not available: %v", err)
		return nil
	}
	return reg
}

// Module provides the application-level components.
var Module = fx.Options(
	fx.Provide(ProvideArtifactStore),
	fx.Provide(ProvideArtifactWriter),
	fx.Provide(ProvideRegistryLoader),
	fx.Provide(ProvideRegistry),
)
