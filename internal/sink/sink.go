// Package sink delivers assembled tables to their destinations: Parquet
// objects in storage, PostgreSQL or ClickHouse.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basekick-labs/rowhouse/internal/assemble"
)

// ErrNoSinks is returned when a configuration enables no sink.
var ErrNoSinks = errors.New("no sinks configured")

// TableBatch is one assembled table plus the context it came from.
type TableBatch struct {
	RunID     string
	SourceKey string
	Table     *assemble.Table
}

// Sink writes table batches. Write returns a description of where the
// rows went (object key, qualified table name).
type Sink interface {
	Name() string
	Write(ctx context.Context, b TableBatch) (string, error)
	Close() error
}

// Multi fans a batch out to several sinks in order and stops at the first
// failure.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (m Multi) Write(ctx context.Context, b TableBatch) (string, error) {
	if len(m) == 0 {
		return "", ErrNoSinks
	}
	locations := make([]string, 0, len(m))
	for _, s := range m {
		loc, err := s.Write(ctx, b)
		if err != nil {
			return strings.Join(locations, ","), fmt.Errorf("sink %s: %w", s.Name(), err)
		}
		locations = append(locations, loc)
	}
	return strings.Join(locations, ","), nil
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
