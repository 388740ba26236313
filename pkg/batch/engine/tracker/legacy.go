package tracker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// Legacy batch artifacts were named batch_NNNN_<axis> without the plan name.
var (
	legacyArtifact  = regexp.MustCompile(`(?i)^batch_\d{4}_.+\.(png|json)$`)
	currentArtifact = regexp.MustCompile(`^batch_\d{4}_\d{4}_`)
)

// IsLegacyArtifact reports whether name is an image or side-file of the old
// batch naming. A current name whose plan is four digits is not legacy.
func IsLegacyArtifact(name string) bool {
	return legacyArtifact.MatchString(name) && !currentArtifact.MatchString(name)
}

// RemoveLegacyArtifacts finds legacy batch artifacts under roots and removes
// them. Missing roots are skipped. With dryRun nothing is removed; the
// matches are returned either way.
func RemoveLegacyArtifacts(dryRun bool, roots ...string) ([]string, error) {
	var found []string
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsLegacyArtifact(d.Name()) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan '%s': %w", root, err)
		}
	}
	if dryRun {
		return found, nil
	}
	for _, path := range found {
		if err := os.Remove(path); err != nil {
			return found, fmt.Errorf("failed to remove '%s': %w", path, err)
		}
		logger.Debugf("Removed legacy artifact '%s'.", path)
	}
	return found, nil
}
