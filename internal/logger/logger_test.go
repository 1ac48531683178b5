package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestBufferWraps(t *testing.T) {
	b := NewLogBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: msg})
	}
	assert.Equal(t, 3, b.Count())

	got := b.GetRecent(Query{})
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].Message)
	assert.Equal(t, "b", got[2].Message)
}

func TestBufferFilters(t *testing.T) {
	b := NewLogBuffer(10)
	now := time.Now()
	b.Add(LogEntry{Timestamp: now.Add(-2 * time.Hour), Level: "ERROR", Message: "old"})
	b.Add(LogEntry{Timestamp: now, Level: "DEBUG", Component: "pipeline", Message: "noise"})
	b.Add(LogEntry{Timestamp: now, Level: "WARN", Component: "pipeline", Message: "coerced"})
	b.Add(LogEntry{Timestamp: now, Level: "ERROR", Component: "sink", Message: "down"})

	got := b.GetRecent(Query{Level: "warn", SinceMinutes: 60})
	require.Len(t, got, 2)
	assert.Equal(t, "down", got[0].Message)

	got = b.GetRecent(Query{Component: "pipeline"})
	require.Len(t, got, 2)

	got = b.GetRecent(Query{Limit: 1, Level: "error"})
	require.Len(t, got, 1)
	assert.Equal(t, "down", got[0].Message)
}

func TestSetupCapturesJSON(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	for _, format := range []string{"json", "console"} {
		var out bytes.Buffer
		buf := NewLogBuffer(10)
		setup(&out, "info", format, buf)

		l := Get("pipeline")
		l.Warn().Str("key", "raw/a.json").Msg("Coercion failed")
		l.Debug().Msg("filtered")

		got := buf.GetRecent(Query{})
		require.Len(t, got, 1, format)
		assert.Equal(t, "WARN", got[0].Level)
		assert.Equal(t, "pipeline", got[0].Component)
		assert.Equal(t, "Coercion failed", got[0].Message)
		assert.Equal(t, "raw/a.json", got[0].Key)
		assert.Contains(t, out.String(), "Coercion failed")
	}
}

func TestParseLogLineRejectsGarbage(t *testing.T) {
	_, ok := parseLogLine([]byte("not json"))
	assert.False(t, ok)
	_, ok = parseLogLine([]byte(`{"foo":1}`))
	assert.False(t, ok)
}
