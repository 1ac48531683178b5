// Package shutdown stops the serve-mode components in a fixed order: the
// triggers that start new work first, then the pipeline that drains it, then
// the stores it writes to.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(ctx context.Context) error

// Priorities order the steps, lowest first.
const (
	PriorityHTTPServer = 10 // stop accepting API requests
	PriorityMQTT       = 20 // stop taking notifications
	PriorityScheduler  = 30 // stop scans, wait for a running one
	PriorityPipeline   = 40 // in-flight objects
	PrioritySinks      = 50 // database connections
	PriorityLedger     = 60
	PriorityStorage    = 70
)

// Coordinator runs registered steps on shutdown.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step
	seq   int

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type step struct {
	name     string
	fn       ShutdownFunc
	priority int
	seq      int // registration order among equal priorities
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register closes component at the given priority.
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.RegisterHook(name, func(context.Context) error { return component.Close() }, priority)
}

// RegisterHook runs hook at the given priority with the shutdown deadline.
func (c *Coordinator) RegisterHook(name string, hook ShutdownFunc, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, fn: hook, priority: priority, seq: c.seq})
	c.seq++

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown step")
}

// WaitForSignal blocks until SIGINT, SIGTERM or SIGQUIT arrives or
// TriggerShutdown is called.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Shutdown runs every step once, in priority order. A failing step does not
// stop the rest; the deadline does. The first error is returned.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()
		sortSteps(steps)

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for i, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("step", s.name).
					Int("skipped", len(steps)-i).
					Msg("Shutdown timeout reached, skipping remaining steps")
				if shutdownErr == nil {
					shutdownErr = ctx.Err()
				}
				return
			}

			stepStart := time.Now()
			if err := s.fn(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("step", s.name).
					Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
				continue
			}
			c.logger.Debug().
				Str("step", s.name).
				Int("priority", s.priority).
				Dur("duration", time.Since(stepStart)).
				Msg("Shutdown step complete")
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown releases WaitForSignal. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Done is closed once shutdown has been triggered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

func sortSteps(steps []step) {
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].seq < steps[j].seq
	})
}
