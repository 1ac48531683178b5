package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/rowhouse/internal/pipeline"
)

type fakeScanner struct {
	mu       sync.Mutex
	prefixes []string
	results  map[string][]*pipeline.ObjectResult
	errs     map[string]error
}

func (f *fakeScanner) ProcessPrefix(ctx context.Context, prefix string) ([]*pipeline.ObjectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return f.results[prefix], f.errs[prefix]
}

func TestNewScanScheduler(t *testing.T) {
	s, err := NewScanScheduler(&ScanSchedulerConfig{Scanner: &fakeScanner{}, Prefixes: []string{"raw/"}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", s.GetSchedule())
	assert.False(t, s.IsRunning())

	_, err = NewScanScheduler(&ScanSchedulerConfig{Scanner: &fakeScanner{}, Prefixes: []string{"raw/"}, Schedule: "invalid schedule"})
	assert.Error(t, err)

	_, err = NewScanScheduler(&ScanSchedulerConfig{Scanner: &fakeScanner{}})
	assert.Error(t, err)

	_, err = NewScanScheduler(&ScanSchedulerConfig{Prefixes: []string{"raw/"}})
	assert.Error(t, err)

	s, err = NewScanScheduler(&ScanSchedulerConfig{Scanner: &fakeScanner{}, Prefixes: []string{"raw/"}, Schedule: "@hourly"})
	require.NoError(t, err)
	assert.Equal(t, "@hourly", s.GetSchedule())
}

func TestTriggerNowSummarizes(t *testing.T) {
	scanner := &fakeScanner{
		results: map[string][]*pipeline.ObjectResult{
			"a/": {
				{Key: "a/1", Tables: []pipeline.TableResult{{Rows: 3}, {Rows: 2}}},
				{Key: "a/2", Skipped: true},
			},
			"b/": {
				{Key: "b/1", Error: "boom"},
			},
		},
		errs: map[string]error{"b/": errors.New("b/1: boom")},
	}
	s, err := NewScanScheduler(&ScanSchedulerConfig{Scanner: scanner, Prefixes: []string{"a/", "b/"}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	sum, err := s.TriggerNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a/", "b/"}, scanner.prefixes)
	assert.Equal(t, 3, sum.Objects)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 5, sum.Rows)

	status := s.Status()
	assert.Equal(t, false, status["running"])
	assert.Contains(t, status, "last_result")
}

func TestStartStop(t *testing.T) {
	s, err := NewScanScheduler(&ScanSchedulerConfig{Scanner: &fakeScanner{}, Prefixes: []string{"raw/"}, Schedule: "0 3 * * *", Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.Contains(t, s.Status(), "next_run")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}
