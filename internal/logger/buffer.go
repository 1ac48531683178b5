package logger

import (
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Caller    string    `json:"caller,omitempty"`
	Key       string    `json:"key,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LogBuffer is a circular buffer of recent log entries.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	size     int
	writePos int
	count    int
}

var (
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetBuffer returns the global log buffer instance
func GetBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(10000)
	})
	return globalBuffer
}

// NewLogBuffer creates a new log buffer with specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add adds a log entry to the buffer
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.writePos] = entry
	b.writePos = (b.writePos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Query selects entries from the buffer.
type Query struct {
	Limit        int
	Level        string // minimum level
	Component    string
	SinceMinutes int
}

// GetRecent returns matching entries, newest first.
func (b *LogBuffer) GetRecent(q Query) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	var cutoff time.Time
	if q.SinceMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(q.SinceMinutes) * time.Minute)
	}
	levelUpper := strings.ToUpper(q.Level)

	var result []LogEntry
	for i := 0; i < b.count && len(result) < limit; i++ {
		entry := b.entries[(b.writePos-1-i+b.size)%b.size]

		if !cutoff.IsZero() && entry.Timestamp.Before(cutoff) {
			continue
		}
		if levelUpper != "" && !matchesLevel(entry.Level, levelUpper) {
			continue
		}
		if q.Component != "" && entry.Component != q.Component {
			continue
		}
		result = append(result, entry)
	}
	return result
}

var levelPriority = map[string]int{
	"TRACE": -1,
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
	"PANIC": 5,
}

// matchesLevel checks if the entry level matches or exceeds the filter level
func matchesLevel(entryLevel, filterLevel string) bool {
	entryPriority, ok1 := levelPriority[strings.ToUpper(entryLevel)]
	filterPriority, ok2 := levelPriority[filterLevel]
	if !ok1 || !ok2 {
		return strings.EqualFold(entryLevel, filterLevel)
	}
	return entryPriority >= filterPriority
}

// Count returns the current number of entries in the buffer
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// LogBufferWriter is an io.Writer that parses zerolog JSON lines into a
// LogBuffer. It never fails the write.
type LogBufferWriter struct {
	buffer *LogBuffer
}

// NewLogBufferWriter returns a writer feeding buf, or the global buffer
// when buf is nil.
func NewLogBufferWriter(buf *LogBuffer) *LogBufferWriter {
	if buf == nil {
		buf = GetBuffer()
	}
	return &LogBufferWriter{buffer: buf}
}

func (w *LogBufferWriter) Write(p []byte) (int, error) {
	if entry, ok := parseLogLine(p); ok {
		w.buffer.Add(entry)
	}
	return len(p), nil
}

type rawLine struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Caller    string `json:"caller"`
	Time      string `json:"time"`
	Key       string `json:"key"`
	Error     string `json:"error"`
}

func parseLogLine(p []byte) (LogEntry, bool) {
	var raw rawLine
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}
	if raw.Level == "" && raw.Message == "" {
		return LogEntry{}, false
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     strings.ToUpper(raw.Level),
		Component: raw.Component,
		Message:   raw.Message,
		Caller:    raw.Caller,
		Key:       raw.Key,
		Error:     raw.Error,
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.Time); err == nil {
		entry.Timestamp = t
	}
	return entry, true
}
