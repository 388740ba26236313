package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/serendip/pkg/batch/listener/logging"
	"github.com/tigerroll/serendip/pkg/batch/listener/metrics"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
)
