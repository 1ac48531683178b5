package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LocalBackend stores objects as files under a base directory. Keys use
// forward slashes regardless of platform.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// directories already created; avoids MkdirAll contention when many
	// workers write into the same partition
	dirCache map[string]bool
	dirMu    sync.RWMutex
}

// NewLocalBackend creates a local filesystem backend rooted at basePath.
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

func (b *LocalBackend) ensureDir(dir string) error {
	b.dirMu.RLock()
	ok := b.dirCache[dir]
	b.dirMu.RUnlock()
	if ok {
		return nil
	}

	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	if b.dirCache[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	b.dirCache[dir] = true
	return nil
}

// Write writes data atomically (temp file, then rename).
func (b *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	written, err := b.writeAtomic(path, func(f *os.File) (int64, error) {
		n, err := f.Write(data)
		return int64(n), err
	})
	if err != nil {
		return err
	}
	b.logger.Debug().Str("path", path).Int64("size", written).Msg("Wrote file")
	return nil
}

// WriteReader streams reader into path atomically.
func (b *LocalBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	written, err := b.writeAtomic(path, func(f *os.File) (int64, error) {
		return io.Copy(f, reader)
	})
	if err != nil {
		return err
	}
	b.logger.Debug().Str("path", path).Int64("size", written).Msg("Wrote file from reader")
	return nil
}

func (b *LocalBackend) writeAtomic(path string, fill func(*os.File) (int64, error)) (int64, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return 0, fmt.Errorf("invalid path: %w", err)
	}
	dir := filepath.Dir(fullPath)
	if err := b.ensureDir(dir); err != nil {
		return 0, err
	}

	tmpFile, err := os.CreateTemp(dir, ".rowhouse-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, writeErr := fill(tmpFile)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// Read reads the whole object.
func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// ReadTo copies the object into writer.
func (b *LocalBackend) ReadTo(ctx context.Context, path string, writer io.Writer) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	return nil
}

// List returns keys under prefix in lexical order. The prefix is a key
// prefix, not only a directory, so "raw/2024/01" matches "raw/2024/01/15/x".
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	objects, err := b.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Path
	}
	return keys, nil
}

// ListObjects walks the directory containing prefix and returns matching
// files with their size and modification time.
func (b *LocalBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	cleanPrefix := sanitizePath(prefix)
	walkRoot := b.basePath
	if dir := cleanPrefix; dir != "" {
		if !strings.HasSuffix(dir, "/") {
			dir = filepath.ToSlash(filepath.Dir(dir))
		}
		var err error
		if walkRoot, err = b.validatePath(dir); err != nil {
			return nil, fmt.Errorf("invalid prefix: %w", err)
		}
	}

	var results []ObjectInfo
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, cleanPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		results = append(results, ObjectInfo{Path: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []ObjectInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// Delete removes the object. Missing objects are not an error.
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted file")
	return nil
}

// Exists reports whether the object exists.
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.Stat(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns the object's size and modification time.
func (b *LocalBackend) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return ObjectInfo{Path: path, Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

func (b *LocalBackend) Close() error {
	return nil
}

// BasePath returns the root directory.
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

func (b *LocalBackend) Type() string {
	return "local"
}

// sanitizePath strips leading slashes, parent references and NUL bytes.
func sanitizePath(path string) string {
	path = strings.TrimPrefix(filepath.ToSlash(path), "/")
	path = strings.ReplaceAll(path, "..", "_")
	return strings.ReplaceAll(path, "\x00", "")
}

// validatePath resolves path under the base directory and rejects anything
// that would escape it.
func (b *LocalBackend) validatePath(path string) (string, error) {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(sanitizePath(path)))
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(b.basePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}
	return absPath, nil
}
