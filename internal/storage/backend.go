package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned (wrapped) when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Backend defines the interface for object storage backends. Input objects
// are read through it and Parquet outputs are written through it.
type Backend interface {
	// Write writes data to the specified path
	Write(ctx context.Context, path string, data []byte) error

	// WriteReader writes data from a reader to the specified path (for large files)
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	// Read reads data from the specified path
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadTo reads data from the specified path and writes it to the writer
	ReadTo(ctx context.Context, path string, writer io.Writer) error

	// List lists all objects with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete deletes the object at the specified path
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns size and last-modified time of one object
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// Close closes any resources held by the backend
	Close() error

	// Type returns the storage type identifier (e.g., "local", "s3", "azure")
	Type() string
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectLister is an optional interface for backends that can list objects
// with their metadata in one pass. Prefix scans prefer it over List+Stat.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Config selects and configures a backend.
type Config struct {
	Type       string // local, s3, azure
	LocalPath  string
	S3         S3Config
	Azure      AzureBlobConfig
	Resilience *ResilientConfig // nil disables retries and the circuit breaker
}

// Open builds the backend named by cfg.Type.
func Open(cfg Config, logger zerolog.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		path := cfg.LocalPath
		if path == "" {
			path = "./data"
		}
		backend, err = NewLocalBackend(path, logger)
	case "s3", "minio":
		s3cfg := cfg.S3
		backend, err = NewS3Backend(&s3cfg, logger)
	case "azure", "azblob":
		azcfg := cfg.Azure
		backend, err = NewAzureBlobBackend(&azcfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (expected local, s3 or azure)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Resilience != nil {
		backend = NewResilientBackend(backend, cfg.Resilience, logger)
	}
	return backend, nil
}

// ListObjects lists objects with metadata, falling back to List plus Stat
// for backends that cannot do it in one pass.
func ListObjects(ctx context.Context, b Backend, prefix string) ([]ObjectInfo, error) {
	if lister, ok := b.(ObjectLister); ok {
		return lister.ListObjects(ctx, prefix)
	}
	paths, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	infos := make([]ObjectInfo, 0, len(paths))
	for _, p := range paths {
		info, err := b.Stat(ctx, p)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return "application/vnd.apache.parquet"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
