// Command serendip plans and runs large image generation campaigns against
// the Gemini API, synchronously or through batch jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

func main() {
	// Cancellation leaves the manifest consistent up to the last appended
	// record, so an interrupted run can simply be resumed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
