package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/circuitbreaker"
)

// ResilientBackend wraps a backend with retries and a circuit breaker.
// Missing objects are returned immediately and never count as failures.
type ResilientBackend struct {
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger

	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// ResilientConfig holds configuration for the resilient backend
type ResilientConfig struct {
	MaxFailures         int
	Timeout             time.Duration
	HalfOpenMaxRequests int

	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultResilientConfig returns default resilient backend configuration
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
	}
}

// NewResilientBackend creates a new resilient storage backend
func NewResilientBackend(backend Backend, cfg *ResilientConfig, logger zerolog.Logger) *ResilientBackend {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}

	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:                "storage-" + backend.Type(),
		MaxFailures:         cfg.MaxFailures,
		Timeout:             cfg.Timeout,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
		IsFailure:           isRetryable,
	}, logger)

	return &ResilientBackend{
		backend:       backend,
		cb:            cb,
		logger:        logger.With().Str("component", "resilient-storage").Logger(),
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

func isRetryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// do runs fn with exponential backoff until it succeeds, fails with a
// non-retryable error, the circuit opens or ctx ends.
func (r *ResilientBackend) do(ctx context.Context, op, path string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.cb.Execute(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			r.logger.Warn().Str("op", op).Str("path", path).Msg("Storage call rejected - circuit breaker open")
			return err
		}
		if !isRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt == r.maxRetries {
			break
		}

		delay := r.retryDelay * time.Duration(1<<uint(attempt))
		if delay > r.retryMaxDelay {
			delay = r.retryMaxDelay
		}
		r.logger.Warn().
			Err(err).
			Str("op", op).
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_retries", r.maxRetries).
			Dur("retry_delay", delay).
			Msg("Storage call failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("storage %s failed after %d retries: %w", op, r.maxRetries, lastErr)
}

func (r *ResilientBackend) Write(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, "write", path, func() error {
		return r.backend.Write(ctx, path, data)
	})
}

// WriteReader is attempted once: a partially consumed reader cannot be
// replayed.
func (r *ResilientBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	return r.cb.Execute(func() error {
		return r.backend.WriteReader(ctx, path, reader, size)
	})
}

func (r *ResilientBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "read", path, func() error {
		var err error
		data, err = r.backend.Read(ctx, path)
		return err
	})
	return data, err
}

// ReadTo is attempted once since the writer may already hold partial data.
func (r *ResilientBackend) ReadTo(ctx context.Context, path string, writer io.Writer) error {
	return r.cb.Execute(func() error {
		return r.backend.ReadTo(ctx, path, writer)
	})
}

func (r *ResilientBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, "list", prefix, func() error {
		var err error
		keys, err = r.backend.List(ctx, prefix)
		return err
	})
	return keys, err
}

// ListObjects delegates to the wrapped backend's listing with metadata.
func (r *ResilientBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	err := r.do(ctx, "list", prefix, func() error {
		var err error
		infos, err = ListObjects(ctx, r.backend, prefix)
		return err
	})
	return infos, err
}

func (r *ResilientBackend) Delete(ctx context.Context, path string) error {
	return r.do(ctx, "delete", path, func() error {
		return r.backend.Delete(ctx, path)
	})
}

func (r *ResilientBackend) Exists(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", path, func() error {
		var err error
		ok, err = r.backend.Exists(ctx, path)
		return err
	})
	return ok, err
}

func (r *ResilientBackend) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, "stat", path, func() error {
		var err error
		info, err = r.backend.Stat(ctx, path)
		return err
	})
	return info, err
}

func (r *ResilientBackend) Close() error {
	return r.backend.Close()
}

func (r *ResilientBackend) Type() string {
	return r.backend.Type()
}

// Unwrap returns the wrapped backend.
func (r *ResilientBackend) Unwrap() Backend {
	return r.backend
}

// CircuitBreakerStats returns circuit breaker statistics
func (r *ResilientBackend) CircuitBreakerStats() map[string]interface{} {
	return r.cb.Stats()
}

// IsCircuitOpen returns true if the circuit breaker is open
func (r *ResilientBackend) IsCircuitOpen() bool {
	return r.cb.IsOpen()
}
