package ndjson

import (
	"go.uber.org/fx"

	cfg "github.com/tigerroll/serendip/pkg/batch/core/config"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
)

// StoreParams holds the dependencies injected via DI.
type StoreParams struct {
	fx.In
	Config  *cfg.Config
	Mirrors []repository.Mirror `group:"mirrors"`
}

// NewStores builds the manifest store and the ledger factory of the active profile.
func NewStores(p StoreParams) (repository.ManifestRepository, repository.LedgerFactory) {
	return NewManifestStore(p.Config.ManifestPath(), p.Mirrors...),
		NewLedgerFactory(p.Config.LedgerPath, p.Mirrors...)
}

// Module provides the NDJSON repositories.
var Module = fx.Provide(NewStores)
