// Package serialization reads and writes the newline-delimited JSON files used
// for plans, manifests and ledgers, and encodes JSON columns for the SQL mirror.
package serialization

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const module = "serialization"

// maxLineSize bounds a single NDJSON line. Batch output lines carry base64 images.
const maxLineSize = 64 << 20

// BadLineFunc decides what happens to an undecodable line. Returning nil skips it.
type BadLineFunc func(lineNo int, err error) error

// SkipBadLines logs and skips undecodable lines.
func SkipBadLines(path string) BadLineFunc {
	return func(lineNo int, err error) error {
		logger.Warnf("Skipping malformed line %d in %s: %v", lineNo, path, err)
		return nil
	}
}

// StrictLines fails on the first undecodable line.
func StrictLines(lineNo int, err error) error {
	return fmt.Errorf("line %d: %w", lineNo, err)
}

// DecodeLines decodes one T per non-blank line of r.
func DecodeLines[T any](r io.Reader, onBad BadLineFunc) ([]T, error) {
	var out []T
	err := EachLine(r, func(lineNo int, line []byte) error {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return onBad(lineNo, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// EachLine calls fn for every non-blank line of r, numbered from 1.
func EachLine(r io.Reader, fn func(lineNo int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadFile decodes an NDJSON file. A missing file yields no records.
func ReadFile[T any](path string, onBad BadLineFunc) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to open %s", path), err, false)
	}
	defer f.Close()
	out, err := DecodeLines[T](f, onBad)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to read %s", path), err, false)
	}
	return out, nil
}

// MarshalLine encodes v as a single JSON line without HTML escaping.
func MarshalLine(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, exception.NewBatchError(module, "failed to encode record", err, false)
	}
	return buf.Bytes(), nil
}

// AppendLine appends v to path as one line, creating the file and its directory.
func AppendLine(path string, v interface{}) error {
	line, err := MarshalLine(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return exception.NewBatchError(module, "failed to create directory", err, false)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to open %s for append", path), err, false)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return exception.NewBatchError(module, fmt.Sprintf("failed to append to %s", path), err, false)
	}
	if err := f.Close(); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to close %s", path), err, false)
	}
	return nil
}

// WriteFileAtomic writes all values to path through a temporary file and a rename.
func WriteFileAtomic[T any](path string, values []T) error {
	return writeAtomic(path, func(w io.Writer) error {
		for _, v := range values {
			line, err := MarshalLine(v)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return exception.NewBatchError(module, "failed to write temporary file", err, false)
			}
		}
		return nil
	})
}

// WriteBytesAtomic replaces path with data through a temporary file and a rename.
func WriteBytesAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return exception.NewBatchError(module, "failed to write temporary file", err, false)
		}
		return nil
	})
}

func writeAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return exception.NewBatchError(module, "failed to create directory", err, false)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return exception.NewBatchError(module, "failed to create temporary file", err, false)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return exception.NewBatchError(module, "failed to flush temporary file", err, false)
	}
	if err := tmp.Close(); err != nil {
		return exception.NewBatchError(module, "failed to close temporary file", err, false)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to replace %s", path), err, false)
	}
	return nil
}

// BackupPath returns the timestamped backup name used before a rewrite.
func BackupPath(path string, now time.Time) string {
	return path + ".bak_" + now.Format("20060102_150405")
}

// MarshalColumn encodes v as a JSON text column. nil values become "null".
func MarshalColumn(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", exception.NewBatchError(module, "failed to encode column", err, false)
	}
	return string(data), nil
}

// UnmarshalColumn decodes a JSON text column into v. Empty columns leave v untouched.
func UnmarshalColumn(data string, v interface{}) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return exception.NewBatchError(module, "failed to decode column", err, false)
	}
	return nil
}
