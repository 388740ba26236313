package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
)

// Module contributes the logging listeners to the listener groups.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingItemListener,
		fx.As(new(port.ItemListener)),
		fx.ResultTags(`group:"itemListeners"`),
	)),
	fx.Provide(fx.Annotate(
		NewLoggingRunListener,
		fx.As(new(port.RunListener)),
		fx.ResultTags(`group:"runListeners"`),
	)),
)
