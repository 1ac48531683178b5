// Package pipeline runs input objects through decode, unfurl and the
// configured sinks, recording each outcome in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/decode"
	"github.com/basekick-labs/rowhouse/internal/events"
	"github.com/basekick-labs/rowhouse/internal/ledger"
	"github.com/basekick-labs/rowhouse/internal/metrics"
	"github.com/basekick-labs/rowhouse/internal/processor"
	"github.com/basekick-labs/rowhouse/internal/sink"
	"github.com/basekick-labs/rowhouse/internal/storage"
)

// Config holds pipeline settings.
type Config struct {
	// Workers bounds concurrently processed objects.
	Workers int
	// Format overrides detection from the object key.
	Format decode.Format
	// SkipSeen skips objects the ledger already recorded as done.
	SkipSeen bool
}

// Deps are the collaborators of a Pipeline. Ledger and Metrics are
// optional.
type Deps struct {
	Input     storage.Backend
	Decoder   *decode.Decoder
	Processor *processor.Processor
	Sink      sink.Sink
	Ledger    *ledger.Ledger
	Metrics   *metrics.Metrics
}

// TableResult is the outcome of writing one table.
type TableResult struct {
	Discriminator string `json:"discriminator"`
	Table         string `json:"table"`
	Rows          int    `json:"rows"`
	Output        string `json:"output,omitempty"`
	Warnings      int    `json:"warnings"`
	Errors        int    `json:"errors"`
	Error         string `json:"error,omitempty"`
}

// ObjectResult is the outcome of one input object.
type ObjectResult struct {
	Key          string        `json:"key"`
	RunID        string        `json:"run_id"`
	LastModified time.Time     `json:"last_modified"`
	Skipped      bool          `json:"skipped,omitempty"`
	Documents    int           `json:"documents"`
	Dropped      int           `json:"dropped"`
	Unmapped     int           `json:"unmapped"`
	Tables       []TableResult `json:"tables,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Pipeline processes objects from one input backend.
type Pipeline struct {
	cfg       Config
	input     storage.Backend
	decoder   *decode.Decoder
	processor *processor.Processor
	sink      sink.Sink
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Pipeline, error) {
	if deps.Input == nil {
		return nil, errors.New("pipeline: input backend is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("pipeline: processor is required")
	}
	if deps.Sink == nil {
		return nil, sink.ErrNoSinks
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if deps.Decoder == nil {
		deps.Decoder = decode.NewDecoder(0, logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Pipeline{
		cfg:       cfg,
		input:     deps.Input,
		decoder:   deps.Decoder,
		processor: deps.Processor,
		sink:      deps.Sink,
		ledger:    deps.Ledger,
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// ProcessObject runs one object end to end. The returned result is
// populated even when err is non-nil.
func (p *Pipeline) ProcessObject(ctx context.Context, key string) (*ObjectResult, error) {
	info, err := p.input.Stat(ctx, key)
	if err != nil {
		p.metrics.IncStorageErrors()
		p.metrics.IncObjectsFailed()
		res := &ObjectResult{Key: key, Error: err.Error()}
		return res, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return p.processObject(ctx, info)
}

func (p *Pipeline) processObject(ctx context.Context, info storage.ObjectInfo) (*ObjectResult, error) {
	start := time.Now()
	res := &ObjectResult{
		Key:          info.Path,
		RunID:        ledger.NewRunID(),
		LastModified: info.LastModified.UTC(),
	}
	log := p.logger.With().Str("key", info.Path).Str("run_id", res.RunID).Logger()

	if p.cfg.SkipSeen && p.ledger != nil {
		seen, err := p.ledger.Seen(ctx, info.Path, res.LastModified)
		if err != nil {
			log.Warn().Err(err).Msg("Ledger lookup failed, processing anyway")
		} else if seen {
			res.Skipped = true
			p.metrics.IncObjectsSkipped()
			log.Debug().Msg("Object already processed, skipping")
			return res, nil
		}
	}

	err := p.run(ctx, res, log)
	res.Duration = time.Since(start)
	p.metrics.RecordProcessLatency(res.Duration)

	if err != nil {
		res.Error = err.Error()
		p.metrics.IncObjectsFailed()
		log.Error().Err(err).Msg("Failed to process object")
		return res, err
	}

	p.metrics.IncObjectsProcessed()
	if len(res.Tables) == 0 {
		p.metrics.IncObjectsEmpty()
	}
	log.Info().Int("documents", res.Documents).Int("tables", len(res.Tables)).
		Dur("duration", res.Duration).Msg("Processed object")
	return res, nil
}

// run does the work of processObject and records ledger entries.
func (p *Pipeline) run(ctx context.Context, res *ObjectResult, log zerolog.Logger) error {
	started := time.Now().UTC()

	data, err := p.input.Read(ctx, res.Key)
	if err != nil {
		p.metrics.IncStorageErrors()
		err = fmt.Errorf("failed to read %s: %w", res.Key, err)
		p.record(ctx, res, ledger.Entry{Status: ledger.StatusFailed, Error: err.Error(), StartedAt: started})
		return err
	}
	p.metrics.IncStorageReads()
	p.metrics.IncStorageReadBytes(int64(len(data)))

	format := p.cfg.Format
	if format == decode.FormatAuto {
		format = decode.FormatForKey(res.Key)
	}
	docs, err := p.decoder.DecodeBytes(data, format)
	if err != nil {
		err = fmt.Errorf("failed to decode %s: %w", res.Key, err)
		p.record(ctx, res, ledger.Entry{Status: ledger.StatusFailed, Error: err.Error(), StartedAt: started})
		return err
	}

	out, err := p.processor.Process(docs, assemble.Metadata{
		Source:       res.Key,
		LastModified: res.LastModified.Format(time.RFC3339Nano),
	})
	if err != nil {
		err = fmt.Errorf("failed to process %s: %w", res.Key, err)
		p.record(ctx, res, ledger.Entry{Status: ledger.StatusFailed, Error: err.Error(), StartedAt: started})
		return err
	}
	res.Documents, res.Dropped, res.Unmapped = out.Documents, out.Dropped, out.Unmapped
	p.metrics.IncDocuments(int64(out.Documents))
	p.metrics.IncDocumentsDropped(int64(out.Dropped))
	p.metrics.IncDocumentsUnmapped(int64(out.Unmapped))

	if len(out.Order) == 0 {
		log.Info().Int("documents", out.Documents).Msg("Object produced no rows")
		p.record(ctx, res, ledger.Entry{Status: ledger.StatusEmpty, StartedAt: started})
		return nil
	}

	var errs []error
	for _, disc := range out.Order {
		table := out.Tables[disc]
		tr := TableResult{
			Discriminator: disc,
			Table:         table.Name,
			Rows:          table.NumRows(),
			Warnings:      len(table.Diagnostics.Warnings),
			Errors:        len(table.Diagnostics.Errors),
		}
		p.metrics.IncCoercionWarnings(int64(tr.Warnings))
		p.metrics.IncCoercionErrors(int64(tr.Errors))

		entry := ledger.Entry{Table: table.Name, Rows: tr.Rows, StartedAt: started}
		location, werr := p.sink.Write(ctx, sink.TableBatch{RunID: res.RunID, SourceKey: res.Key, Table: table})
		if werr != nil {
			p.metrics.IncSinkErrors(p.sink.Name())
			tr.Error = werr.Error()
			entry.Status, entry.Error = ledger.StatusFailed, werr.Error()
			errs = append(errs, fmt.Errorf("table %s: %w", table.Name, werr))
		} else {
			p.metrics.IncSinkWrites(p.sink.Name())
			p.metrics.IncTables()
			p.metrics.IncRows(int64(tr.Rows))
			tr.Output = location
			entry.Status, entry.Output = ledger.StatusSuccess, location
		}
		res.Tables = append(res.Tables, tr)
		p.record(ctx, res, entry)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) record(ctx context.Context, res *ObjectResult, e ledger.Entry) {
	if p.ledger == nil {
		return
	}
	e.RunID = res.RunID
	e.ObjectKey = res.Key
	e.LastModified = res.LastModified
	// A cancelled run must still leave its ledger trail.
	if err := p.ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		p.logger.Warn().Err(err).Str("key", res.Key).Msg("Failed to record ledger entry")
	}
}

// ProcessObjects processes keys with bounded concurrency. Results are in
// key order; the error joins every per-object failure.
func (p *Pipeline) ProcessObjects(ctx context.Context, keys []string) ([]*ObjectResult, error) {
	return p.fanOut(ctx, len(keys), func(i int) (*ObjectResult, error) {
		return p.ProcessObject(ctx, keys[i])
	}, func(i int) string { return keys[i] })
}

// ProcessPrefix lists every object under prefix and processes it. Listing
// metadata stands in for a per-object Stat.
func (p *Pipeline) ProcessPrefix(ctx context.Context, prefix string) ([]*ObjectResult, error) {
	objects, err := storage.ListObjects(ctx, p.input, prefix)
	if err != nil {
		p.metrics.IncStorageErrors()
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	p.logger.Info().Str("prefix", prefix).Int("objects", len(objects)).Msg("Listed input objects")
	return p.fanOut(ctx, len(objects), func(i int) (*ObjectResult, error) {
		return p.processObject(ctx, objects[i])
	}, func(i int) string { return objects[i].Path })
}

// ProcessEvent extracts object keys from a storage event notification and
// processes them.
func (p *Pipeline) ProcessEvent(ctx context.Context, payload []byte) ([]*ObjectResult, error) {
	keys, err := events.Keys(payload)
	if err != nil {
		return nil, err
	}
	return p.ProcessObjects(ctx, keys)
}

func (p *Pipeline) fanOut(ctx context.Context, n int, fn func(int) (*ObjectResult, error), keyOf func(int) string) ([]*ObjectResult, error) {
	results := make([]*ObjectResult, n)
	errs := make([]error, n)

	sem := semaphore.NewWeighted(int64(p.cfg.Workers))
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < n; j++ {
				results[j] = &ObjectResult{Key: keyOf(j), Error: err.Error()}
				errs[j] = fmt.Errorf("%s: %w", keyOf(j), err)
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

// Close closes the sink.
func (p *Pipeline) Close() error {
	return p.sink.Close()
}

// Processor returns the processor used for unfurling.
func (p *Pipeline) Processor() *processor.Processor { return p.processor }

// Ledger returns the ledger, or nil.
func (p *Pipeline) Ledger() *ledger.Ledger { return p.ledger }
