package partition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const ledgerSuffix = ".jobs.jsonl"

// FileSelector picks remote files to delete. Names are always selected;
// OlderThan and DisplayPrefixes select listed files matching all set filters.
type FileSelector struct {
	Names           []string
	OlderThan       time.Duration
	DisplayPrefixes []string
}

func (s FileSelector) filters() bool {
	return s.OlderThan > 0 || len(s.DisplayPrefixes) > 0
}

func (s FileSelector) match(f port.RemoteFile, now time.Time) bool {
	if s.OlderThan > 0 && (f.CreateTime.IsZero() || !f.CreateTime.Before(now.Add(-s.OlderThan))) {
		return false
	}
	if len(s.DisplayPrefixes) == 0 {
		return true
	}
	for _, p := range s.DisplayPrefixes {
		if p != "" && strings.HasPrefix(f.DisplayName, p) {
			return true
		}
	}
	return false
}

// FileCleanup is the outcome of a remote file deletion. Without Applied only
// Candidates is filled.
type FileCleanup struct {
	Candidates []string
	Deleted    []string
	Missing    []string
	Failed     []string
	Applied    bool
}

// ListFiles returns every remote file, oldest first.
func (o *Orchestrator) ListFiles(ctx context.Context) ([]port.RemoteFile, error) {
	if o.Files == nil {
		return nil, exception.NewBatchError(module, "remote file service is not configured", nil, false)
	}
	files, err := o.Files.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote files: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].CreateTime.Before(files[j].CreateTime) })
	return files, nil
}

// DeleteFiles deletes the selected remote files. The listing is only fetched
// when the selector filters on age or display name.
func (o *Orchestrator) DeleteFiles(ctx context.Context, sel FileSelector, apply bool) (*FileCleanup, error) {
	names := append([]string(nil), sel.Names...)
	if sel.filters() {
		files, err := o.ListFiles(ctx)
		if err != nil {
			return nil, err
		}
		now := o.Now()
		for _, f := range files {
			if sel.match(f, now) {
				names = append(names, f.Name)
			}
		}
	}
	return o.deleteFiles(ctx, names, apply)
}

// PurgeFiles deletes every remote file the profile owns: uploads whose
// display name carries the profile prefix, the input file of every ledger
// row and the output file of every ledger job the service still knows.
func (o *Orchestrator) PurgeFiles(ctx context.Context, apply bool) (*FileCleanup, error) {
	ctx, end := o.Tracer.StartRunSpan(ctx, "files_purge", map[string]interface{}{"profile": o.Options.Profile})
	defer end()

	files, err := o.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%s-%s-", o.Options.DisplayNamePrefix, o.Options.Profile)
	var names []string
	for _, f := range files {
		if strings.HasPrefix(f.DisplayName, prefix) {
			names = append(names, f.Name)
		}
	}

	plans, err := o.PlanNames()
	if err != nil {
		return nil, err
	}
	for _, planName := range plans {
		report, err := o.Status(ctx, planName)
		if err != nil {
			return nil, err
		}
		for _, ch := range report.Chunks {
			if ch.Row.InputFile != "" {
				names = append(names, ch.Row.InputFile)
			}
			if ch.Job != nil && ch.Job.OutputFile != "" {
				names = append(names, ch.Job.OutputFile)
			}
		}
	}
	return o.deleteFiles(ctx, names, apply)
}

// PlanNames lists the plans that have a ledger, sorted.
func (o *Orchestrator) PlanNames() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(o.Options.BatchesDir, "*"+ledgerSuffix))
	if err != nil {
		return nil, err
	}
	plans := make([]string, 0, len(paths))
	for _, p := range paths {
		plans = append(plans, strings.TrimSuffix(filepath.Base(p), ledgerSuffix))
	}
	sort.Strings(plans)
	return plans, nil
}

func (o *Orchestrator) deleteFiles(ctx context.Context, names []string, apply bool) (*FileCleanup, error) {
	res := &FileCleanup{Candidates: uniqueSorted(names), Applied: apply}
	if !apply || len(res.Candidates) == 0 {
		return res, nil
	}
	if o.Files == nil {
		return res, exception.NewBatchError(module, "remote file service is not configured", nil, false)
	}
	var errs *multierror.Error
	for _, name := range res.Candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := o.Files.DeleteFile(ctx, name)
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, name)
		case isNotFound(err):
			logger.Debugf("Remote file %s is already gone.", name)
			res.Missing = append(res.Missing, name)
		default:
			logger.Warnf("Failed to delete remote file %s: %v", name, err)
			res.Failed = append(res.Failed, name)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return res, errs.ErrorOrNil()
}

func isNotFound(err error) bool {
	var coder exception.StatusCoder
	if errors.As(err, &coder) && coder.StatusCode() == 404 {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "NOT_FOUND")
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
