package model

import "fmt"

// RunSummary counts the terminal outcomes of one run.
type RunSummary struct {
	Total     int
	Success   int
	Failed    int
	Skipped   int
	Integrity int
}

// Add accounts one terminal record.
func (s *RunSummary) Add(rec *ManifestRecord) {
	s.Total++
	switch {
	case rec.Status == StatusSuccess:
		s.Success++
	case rec.ErrorType.IsIntegrity():
		s.Integrity++
		s.Failed++
	default:
		s.Failed++
	}
}

// Skip accounts one item skipped as already completed.
func (s *RunSummary) Skip() {
	s.Total++
	s.Skipped++
}

func (s RunSummary) String() string {
	return fmt.Sprintf("total=%d success=%d failed=%d skipped=%d integrity=%d",
		s.Total, s.Success, s.Failed, s.Skipped, s.Integrity)
}
