// Package metrics keeps process-wide counters for the pipeline and the HTTP
// service and renders them as JSON or Prometheus text.
package metrics

import (
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds all rowhouse counters.
type Metrics struct {
	startTime time.Time

	// HTTP
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64
	httpLatencySum      atomic.Int64 // microseconds
	httpLatencyCount    atomic.Int64

	// Objects
	objectsProcessed atomic.Int64
	objectsFailed    atomic.Int64
	objectsSkipped   atomic.Int64
	objectsEmpty     atomic.Int64

	// Object processing latency (microseconds).
	// Buckets: 10ms, 50ms, 100ms, 250ms, 500ms, 1s, 5s, 10s, 30s, +Inf
	processBuckets [10]atomic.Int64
	processSum     atomic.Int64
	processCount   atomic.Int64

	// Documents and rows
	documentsTotal    atomic.Int64
	documentsDropped  atomic.Int64
	documentsUnmapped atomic.Int64
	rowsTotal         atomic.Int64
	tablesTotal       atomic.Int64

	// Coercion diagnostics
	coercionWarnings atomic.Int64
	coercionErrors   atomic.Int64

	// Storage
	storageReadsTotal      atomic.Int64
	storageReadBytesTotal  atomic.Int64
	storageWritesTotal     atomic.Int64
	storageWriteBytesTotal atomic.Int64
	storageErrorsTotal     atomic.Int64

	// Sinks, keyed by sink name
	sinkMu     sync.Mutex
	sinkWrites map[string]*atomic.Int64
	sinkErrors map[string]*atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// New returns an independent collector. Most callers use Get.
func New() *Metrics {
	return &Metrics{
		startTime:  time.Now(),
		sinkWrites: make(map[string]*atomic.Int64),
		sinkErrors: make(map[string]*atomic.Int64),
		logger:     zerolog.Nop(),
	}
}

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// HTTP
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records one request duration in microseconds.
func (m *Metrics) RecordHTTPLatency(micros int64) {
	m.httpLatencySum.Add(micros)
	m.httpLatencyCount.Add(1)
}

// Objects
func (m *Metrics) IncObjectsProcessed() { m.objectsProcessed.Add(1) }
func (m *Metrics) IncObjectsFailed()    { m.objectsFailed.Add(1) }
func (m *Metrics) IncObjectsSkipped()   { m.objectsSkipped.Add(1) }
func (m *Metrics) IncObjectsEmpty()     { m.objectsEmpty.Add(1) }

// RecordProcessLatency records how long one object took end to end.
func (m *Metrics) RecordProcessLatency(d time.Duration) {
	micros := d.Microseconds()
	m.processSum.Add(micros)
	m.processCount.Add(1)
	m.processBuckets[latencyBucket(micros)].Add(1)
}

var bucketBounds = [...]int64{10_000, 50_000, 100_000, 250_000, 500_000, 1_000_000, 5_000_000, 10_000_000, 30_000_000}

var bucketLabels = [...]string{"0.01", "0.05", "0.1", "0.25", "0.5", "1", "5", "10", "30", "+Inf"}

func latencyBucket(micros int64) int {
	for i, bound := range bucketBounds {
		if micros <= bound {
			return i
		}
	}
	return len(bucketBounds)
}

// Documents and rows
func (m *Metrics) IncDocuments(n int64)         { m.documentsTotal.Add(n) }
func (m *Metrics) IncDocumentsDropped(n int64)  { m.documentsDropped.Add(n) }
func (m *Metrics) IncDocumentsUnmapped(n int64) { m.documentsUnmapped.Add(n) }
func (m *Metrics) IncRows(n int64)              { m.rowsTotal.Add(n) }
func (m *Metrics) IncTables()                   { m.tablesTotal.Add(1) }

// Coercion
func (m *Metrics) IncCoercionWarnings(n int64) { m.coercionWarnings.Add(n) }
func (m *Metrics) IncCoercionErrors(n int64)   { m.coercionErrors.Add(n) }

// Storage
func (m *Metrics) IncStorageReads()                 { m.storageReadsTotal.Add(1) }
func (m *Metrics) IncStorageReadBytes(bytes int64)  { m.storageReadBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageWrites()                { m.storageWritesTotal.Add(1) }
func (m *Metrics) IncStorageWriteBytes(bytes int64) { m.storageWriteBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageErrors()                { m.storageErrorsTotal.Add(1) }

func (m *Metrics) sinkCounter(set map[string]*atomic.Int64, name string) *atomic.Int64 {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	c, ok := set[name]
	if !ok {
		c = new(atomic.Int64)
		set[name] = c
	}
	return c
}

// IncSinkWrites counts one successful table write to the named sink.
func (m *Metrics) IncSinkWrites(sink string) { m.sinkCounter(m.sinkWrites, sink).Add(1) }

// IncSinkErrors counts one failed table write to the named sink.
func (m *Metrics) IncSinkErrors(sink string) { m.sinkCounter(m.sinkErrors, sink).Add(1) }

func (m *Metrics) sinkSnapshot(set map[string]*atomic.Int64) map[string]int64 {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	out := make(map[string]int64, len(set))
	for k, v := range set {
		out[k] = v.Load()
	}
	return out
}

// Snapshot returns all metrics as a map (for the JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
		"goroutines":         runtime.NumGoroutine(),
		"go_version":         runtime.Version(),
		"memory_alloc_bytes": memStats.Alloc,
		"memory_sys_bytes":   memStats.Sys,
		"gc_cycles":          memStats.NumGC,

		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		"objects_processed_total": m.objectsProcessed.Load(),
		"objects_failed_total":    m.objectsFailed.Load(),
		"objects_skipped_total":   m.objectsSkipped.Load(),
		"objects_empty_total":     m.objectsEmpty.Load(),
		"process_latency_sum_us":  m.processSum.Load(),
		"process_latency_count":   m.processCount.Load(),

		"documents_total":          m.documentsTotal.Load(),
		"documents_dropped_total":  m.documentsDropped.Load(),
		"documents_unmapped_total": m.documentsUnmapped.Load(),
		"rows_total":               m.rowsTotal.Load(),
		"tables_total":             m.tablesTotal.Load(),

		"coercion_warnings_total": m.coercionWarnings.Load(),
		"coercion_errors_total":   m.coercionErrors.Load(),

		"storage_reads_total":       m.storageReadsTotal.Load(),
		"storage_read_bytes_total":  m.storageReadBytesTotal.Load(),
		"storage_writes_total":      m.storageWritesTotal.Load(),
		"storage_write_bytes_total": m.storageWriteBytesTotal.Load(),
		"storage_errors_total":      m.storageErrorsTotal.Load(),

		"sink_writes_total": m.sinkSnapshot(m.sinkWrites),
		"sink_errors_total": m.sinkSnapshot(m.sinkErrors),
	}
}

type promMetric struct {
	name, help, kind string
	value            func() float64
}

func counter(name, help string, v *atomic.Int64) promMetric {
	return promMetric{name: name, help: help, kind: "counter", value: func() float64 { return float64(v.Load()) }}
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	simple := []promMetric{
		{"rowhouse_uptime_seconds", "Time since rowhouse started", "gauge", func() float64 { return time.Since(m.startTime).Seconds() }},
		{"rowhouse_goroutines", "Number of goroutines", "gauge", func() float64 { return float64(runtime.NumGoroutine()) }},
		{"rowhouse_memory_alloc_bytes", "Current allocated memory", "gauge", func() float64 { return float64(memStats.Alloc) }},
		{"rowhouse_gc_cycles_total", "Total number of GC cycles", "counter", func() float64 { return float64(memStats.NumGC) }},
		counter("rowhouse_http_requests_total", "Total HTTP requests", &m.httpRequestsTotal),
		counter("rowhouse_http_requests_error_total", "Failed HTTP requests", &m.httpRequestsError),
		counter("rowhouse_objects_processed_total", "Input objects processed", &m.objectsProcessed),
		counter("rowhouse_objects_failed_total", "Input objects that failed", &m.objectsFailed),
		counter("rowhouse_objects_skipped_total", "Input objects skipped as already processed", &m.objectsSkipped),
		counter("rowhouse_objects_empty_total", "Input objects that produced no rows", &m.objectsEmpty),
		counter("rowhouse_documents_total", "Documents decoded", &m.documentsTotal),
		counter("rowhouse_documents_dropped_total", "Documents without a usable discriminator", &m.documentsDropped),
		counter("rowhouse_documents_unmapped_total", "Documents whose discriminator has no table", &m.documentsUnmapped),
		counter("rowhouse_rows_total", "Rows produced", &m.rowsTotal),
		counter("rowhouse_tables_total", "Tables written", &m.tablesTotal),
		counter("rowhouse_coercion_warnings_total", "Coercion warnings", &m.coercionWarnings),
		counter("rowhouse_coercion_errors_total", "Coercion errors", &m.coercionErrors),
		counter("rowhouse_storage_reads_total", "Storage reads", &m.storageReadsTotal),
		counter("rowhouse_storage_read_bytes_total", "Bytes read from storage", &m.storageReadBytesTotal),
		counter("rowhouse_storage_errors_total", "Storage errors", &m.storageErrorsTotal),
	}

	var b []byte
	for _, pm := range simple {
		b = appendHeader(b, pm.name, pm.help, pm.kind)
		b = appendMetric(b, pm.name, "", "", pm.value())
	}

	b = appendHeader(b, "rowhouse_process_latency_seconds", "Per-object processing latency", "histogram")
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.processBuckets[i].Load()
		b = appendMetric(b, "rowhouse_process_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "rowhouse_process_latency_seconds_sum", "", "", float64(m.processSum.Load())/1e6)
	b = appendMetric(b, "rowhouse_process_latency_seconds_count", "", "", float64(m.processCount.Load()))

	b = appendLabeled(b, "rowhouse_sink_writes_total", "Table writes per sink", m.sinkSnapshot(m.sinkWrites))
	b = appendLabeled(b, "rowhouse_sink_errors_total", "Failed table writes per sink", m.sinkSnapshot(m.sinkErrors))

	return string(b)
}

func appendHeader(b []byte, name, help, kind string) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, kind...)
	return append(b, '\n')
}

func appendLabeled(b []byte, name, help string, values map[string]int64) []byte {
	b = appendHeader(b, name, help, "counter")
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b = appendMetric(b, name, "sink", k, float64(values[k]))
	}
	return b
}

func appendMetric(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	if labelName != "" {
		b = append(b, '{')
		b = append(b, labelName...)
		b = append(b, '=')
		b = strconv.AppendQuote(b, labelValue)
		b = append(b, '}')
	}
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}
