// Package logging provides listeners that report item and run progress
// through the structured logger.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// --- Item Listener ---

type LoggingItemListener struct{}

func NewLoggingItemListener() *LoggingItemListener {
	return &LoggingItemListener{}
}

func (l *LoggingItemListener) BeforeItem(ctx context.Context, item *model.PlanItem) {
	logger.Debugf("ItemListener: BeforeItem - %s axis=%s generation=%s", item.Key(), item.AxisID, item.GenerationType)
}

func (l *LoggingItemListener) AfterItem(ctx context.Context, record *model.ManifestRecord, elapsed time.Duration) {
	if record.Status == model.StatusSuccess {
		logger.Infof("ItemListener: %s#%d succeeded in %s -> %s", record.PlanName, record.Index, elapsed.Round(time.Millisecond), record.FinalImageFilename)
		return
	}
	logger.Warnf("ItemListener: %s#%d failed in %s (%s): %s", record.PlanName, record.Index, elapsed.Round(time.Millisecond), record.ErrorType, record.Error)
}

func (l *LoggingItemListener) OnRetry(ctx context.Context, item *model.PlanItem, attempt int, errType model.ErrorType, delay time.Duration) {
	logger.Debugf("ItemListener: %s attempt %d failed (%s), retrying in %s", item.Key(), attempt, errType, delay.Round(time.Millisecond))
}

func (l *LoggingItemListener) OnSkip(ctx context.Context, item *model.PlanItem) {
	logger.Debugf("ItemListener: %s already completed, skipping", item.Key())
}

var _ port.ItemListener = (*LoggingItemListener)(nil)

// --- Run Listener ---

type LoggingRunListener struct{}

func NewLoggingRunListener() *LoggingRunListener {
	return &LoggingRunListener{}
}

func (l *LoggingRunListener) BeforeRun(ctx context.Context, operation string, planName string) {
	logger.Infof("RunListener: BeforeRun - %s plan=%s", operation, planName)
}

func (l *LoggingRunListener) AfterRun(ctx context.Context, operation string, planName string, summary model.RunSummary, err error) {
	if err != nil {
		logger.Errorf("RunListener: AfterRun - %s plan=%s %s error: %v", operation, planName, summary, err)
		return
	}
	logger.Infof("RunListener: AfterRun - %s plan=%s %s", operation, planName, summary)
}

var _ port.RunListener = (*LoggingRunListener)(nil)
