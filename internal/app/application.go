// Package app wires the serendip components with uber-fx and runs one
// command inside the application lifecycle.
package app

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/serendip/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/serendip/pkg/batch/adapter/storage/local"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/generate"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/remote"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/ndjson"
	sqlRepo "github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/serendip/pkg/batch/listener"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// Options returns every module of the application. fx only constructs what
// the populated targets need, so a command that never touches the remote
// service never requires an API key.
func Options(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		logger.Module,

		local.Module,
		gcs.Module,
		sqlRepo.Module,
		ndjson.Module,
		remote.Module,
		metrics.Module,
		batchlistener.Module,

		generate.Module,
		partition.Module,
		usecase.Module,
		Module,
	)
}

// Execute builds the application, fills targets (pointers to components),
// starts the lifecycle, runs body and stops the lifecycle. Errors of body and
// of the shutdown are combined.
func Execute(ctx context.Context, cfg *config.Config, body func(ctx context.Context) error, targets ...interface{}) error {
	return ExecuteWith(ctx, cfg, nil, body, targets...)
}

// ExecuteWith is Execute with extra options, e.g. fx.Replace in tests.
func ExecuteWith(ctx context.Context, cfg *config.Config, extra []fx.Option, body func(ctx context.Context) error, targets ...interface{}) error {
	opts := []fx.Option{Options(cfg)}
	opts = append(opts, extra...)
	if len(targets) > 0 {
		opts = append(opts, fx.Populate(targets...))
	}
	application := fx.New(opts...)
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	var result *multierror.Error
	if err := body(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
