// Package scheduler runs periodic prefix scans of the input store so objects
// missed by event notifications are still processed.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/pipeline"
)

// Scanner processes every object under a prefix.
type Scanner interface {
	ProcessPrefix(ctx context.Context, prefix string) ([]*pipeline.ObjectResult, error)
}

// ScanScheduler runs Scanner over the configured prefixes on a cron
// schedule. Runs never overlap.
type ScanScheduler struct {
	scanner  Scanner
	prefixes []string
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger

	lastRun    time.Time
	lastResult RunSummary
}

// ScanSchedulerConfig holds configuration for the scan scheduler
type ScanSchedulerConfig struct {
	Scanner  Scanner
	Prefixes []string
	Schedule string        // cron schedule, default every 15 minutes
	Timeout  time.Duration // per run, default 1 hour
	Logger   zerolog.Logger
}

// RunSummary totals one scan.
type RunSummary struct {
	Objects  int           `json:"objects"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScanScheduler validates the schedule and builds a scheduler.
func NewScanScheduler(cfg *ScanSchedulerConfig) (*ScanScheduler, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("scheduler: scanner is required")
	}
	if len(cfg.Prefixes) == 0 {
		return nil, errors.New("scheduler: at least one prefix is required")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "*/15 * * * *"
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	s := &ScanScheduler{
		scanner:  cfg.Scanner,
		prefixes: cfg.Prefixes,
		schedule: schedule,
		timeout:  timeout,
		logger:   cfg.Logger.With().Str("component", "scan-scheduler").Logger(),
	}
	s.logger.Info().Str("schedule", schedule).Strs("prefixes", cfg.Prefixes).Msg("Scan scheduler initialized")
	return s, nil
}

// Start starts the cron loop.
func (s *ScanScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Scan scheduler already running")
		return nil
	}

	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.nextRun()).
		Msg("Scan scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running scan.
func (s *ScanScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info().Msg("Scan scheduler stopped")
}

func (s *ScanScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.logger.Info().Msg("Triggering scheduled scan")
	s.run(ctx)
}

// TriggerNow scans immediately, outside the schedule.
func (s *ScanScheduler) TriggerNow(ctx context.Context) (RunSummary, error) {
	s.logger.Info().Msg("Manual scan trigger")
	sum := s.run(ctx)
	if sum.Error != "" {
		return sum, errors.New(sum.Error)
	}
	return sum, nil
}

func (s *ScanScheduler) run(ctx context.Context) RunSummary {
	start := time.Now()
	var sum RunSummary
	var errs []error

	for _, prefix := range s.prefixes {
		results, err := s.scanner.ProcessPrefix(ctx, prefix)
		if err != nil {
			errs = append(errs, err)
		}
		for _, r := range results {
			sum.Objects++
			switch {
			case r.Skipped:
				sum.Skipped++
			case r.Error != "":
				sum.Failed++
			}
			for _, t := range r.Tables {
				sum.Rows += t.Rows
			}
		}
	}
	sum.Duration = time.Since(start)
	if err := errors.Join(errs...); err != nil {
		sum.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun, s.lastResult = start, sum
	s.mu.Unlock()

	event := s.logger.Info()
	if sum.Failed > 0 || sum.Error != "" {
		event = s.logger.Warn()
	}
	event.
		Int("objects", sum.Objects).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int("rows", sum.Rows).
		Dur("duration", sum.Duration).
		Msg("Scan completed")
	return sum
}

func (s *ScanScheduler) nextRun() time.Time {
	schedule, err := cronParser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Status returns scheduler status
func (s *ScanScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":  s.running,
		"schedule": s.schedule,
		"prefixes": s.prefixes,
	}
	if s.running {
		status["next_run"] = s.nextRun().Format(time.RFC3339)
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(time.RFC3339)
		status["last_result"] = s.lastResult
	}
	return status
}

// IsRunning returns whether the scheduler is running
func (s *ScanScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *ScanScheduler) GetSchedule() string {
	return s.schedule
}
