package tracker

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// Move is one metadata file relocated by MoveErrorMeta.
type Move struct {
	From string
	To   string
}

// IsErrorMeta reports whether a metadata side-file describes a failure.
func IsErrorMeta(meta map[string]interface{}) bool {
	status, _ := meta["status"].(string)
	if model.Status(status) == model.StatusSuccess {
		return false
	}
	if model.Status(status).IsFailure() {
		return true
	}
	msg, _ := meta["error"].(string)
	return msg != ""
}

// MoveErrorMeta moves every failure side-file under metaRoot to the same
// relative path under destRoot. Unreadable files are skipped. With dryRun
// nothing is moved; the planned moves are returned either way.
func MoveErrorMeta(metaRoot, destRoot string, dryRun bool) ([]Move, error) {
	if _, err := os.Stat(metaRoot); err != nil {
		return nil, fmt.Errorf("meta root not found: %w", err)
	}
	var moves []Move
	err := filepath.WalkDir(metaRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Debugf("Skipping unreadable meta file '%s': %v", path, err)
			return nil
		}
		var meta map[string]interface{}
		if err := json.Unmarshal(data, &meta); err != nil || !IsErrorMeta(meta) {
			return nil
		}
		rel, err := filepath.Rel(metaRoot, path)
		if err != nil {
			return err
		}
		moves = append(moves, Move{From: path, To: filepath.Join(destRoot, rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan '%s': %w", metaRoot, err)
	}
	if dryRun {
		return moves, nil
	}
	for _, mv := range moves {
		if err := os.MkdirAll(filepath.Dir(mv.To), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create '%s': %w", filepath.Dir(mv.To), err)
		}
		if err := os.Rename(mv.From, mv.To); err != nil {
			return nil, fmt.Errorf("failed to move '%s': %w", mv.From, err)
		}
	}
	return moves, nil
}
