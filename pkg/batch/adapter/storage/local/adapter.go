// Package local provides a local file system implementation of the artifact store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	coreConfig "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this local storage provider.
	ProviderType = "local"
)

// localAdapter stores objects as files below baseDir.
type localAdapter struct {
	baseDir string
}

// Verify that localAdapter implements the storage.ArtifactStore interface.
var _ storageAdapter.ArtifactStore = (*localAdapter)(nil)

// NewLocalAdapter creates the store rooted at baseDir, creating the directory if needed.
func NewLocalAdapter(baseDir string) (storageAdapter.ArtifactStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage adapter: base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local storage adapter: failed to stat '%s': %w", baseDir, err)
		}
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage adapter: failed to create '%s': %w", baseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter: '%s' is not a directory", baseDir)
	}
	return &localAdapter{baseDir: baseDir}, nil
}

// Close does nothing for the local file system adapter as it holds no special resources.
func (a *localAdapter) Close() error {
	return nil
}

// Type returns the type of the adapter, which is "local".
func (a *localAdapter) Type() string {
	return ProviderType
}

// Upload writes data to a temporary file next to the target and renames it into place.
func (a *localAdapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(fullPath)+".part*")
	if err != nil {
		return fmt.Errorf("failed to create file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data to '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close '%s': %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move data into '%s': %w", fullPath, err)
	}
	logger.Debugf("Wrote '%s'.", fullPath)
	return nil
}

// Download opens the file of objectName.
func (a *localAdapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// Exists reports whether objectName is a regular file.
func (a *localAdapter) Exists(ctx context.Context, objectName string) (bool, error) {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat '%s': %w", fullPath, err)
	}
	return info.Mode().IsRegular(), nil
}

// ListObjects walks baseDir and calls fn for each file whose object name starts with prefix.
func (a *localAdapter) ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error {
	err := filepath.WalkDir(a.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		objectName, err := filepath.Rel(a.baseDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s': %w", path, err)
		}
		objectName = filepath.ToSlash(objectName)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", a.baseDir, prefix, err)
	}
	return nil
}

// DeleteObject deletes the file of objectName. If it does not exist, it logs a warning and returns nil.
func (a *localAdapter) DeleteObject(ctx context.Context, objectName string) error {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s'.", fullPath)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath maps objectName below baseDir and rejects paths that escape it.
func (a *localAdapter) resolvePath(objectName string) (string, error) {
	fullPath := filepath.Join(a.baseDir, filepath.FromSlash(objectName))
	absBaseDir, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", a.baseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of '%s'", fullPath, a.baseDir)
	}
	return fullPath, nil
}

// LocalProvider opens local stores rooted at the configured artifact root.
type LocalProvider struct{}

// NewLocalProvider creates a new LocalProvider instance.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Type returns the type of resource handled by this provider, which is "local".
func (p *LocalProvider) Type() string {
	return ProviderType
}

// Open implements storage.StorageProvider.
func (p *LocalProvider) Open(ctx context.Context, cfg *coreConfig.Config) (storageAdapter.ArtifactStore, error) {
	return NewLocalAdapter(cfg.ArtifactRoot())
}
