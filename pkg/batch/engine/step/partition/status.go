package partition

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// ChunkStatus is the live state of one ledger row.
type ChunkStatus struct {
	Row model.BatchJobRecord
	Job *port.RemoteJob
	Err error
}

// State is the remote state, or unknown when the query failed.
func (c ChunkStatus) State() model.JobState {
	if c.Err != nil || c.Job == nil {
		return model.JobStateUnknown
	}
	return c.Job.State
}

// StatusReport lists the state of every chunk in ledger order.
type StatusReport struct {
	Chunks    []ChunkStatus
	Histogram map[model.JobState]int
}

// States returns the histogram keys in a stable order.
func (r *StatusReport) States() []model.JobState {
	states := make([]model.JobState, 0, len(r.Histogram))
	for s := range r.Histogram {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// Status queries every job recorded in the plan ledger, at most
// StatusParallelism at a time. A failed query marks the chunk unknown and
// does not fail the report.
func (o *Orchestrator) Status(ctx context.Context, planName string) (*StatusReport, error) {
	ctx, end := o.Tracer.StartRunSpan(ctx, "batch_status", map[string]interface{}{"plan.name": planName})
	defer end()

	rows, err := o.Ledgers.Ledger(planName).LoadAll(ctx)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to load batch ledger", err, false)
	}
	rows = repository.UniqueJobs(rows)

	report := &StatusReport{
		Chunks:    make([]ChunkStatus, len(rows)),
		Histogram: make(map[model.JobState]int),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Options.StatusParallelism)
	for i, row := range rows {
		g.Go(func() error {
			job, err := o.Batches.GetBatch(gctx, row.JobName)
			if err != nil {
				logger.Warnf("Failed to query job %s of chunk %03d: %v", row.JobName, row.ChunkID, err)
			}
			report.Chunks[i] = ChunkStatus{Row: row, Job: job, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, c := range report.Chunks {
		state := c.State()
		report.Histogram[state]++
		o.Metrics.RecordBatchState(ctx, state)
	}
	return report, nil
}
