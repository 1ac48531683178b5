// Package decode turns raw object payloads (JSON, newline-delimited JSON or
// MessagePack, optionally gzipped) into document batches.
package decode

import (
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// Format selects the payload encoding.
type Format int

const (
	FormatAuto Format = iota
	FormatJSON
	FormatMsgPack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgPack:
		return "msgpack"
	default:
		return "auto"
	}
}

// ParseFormat maps a configuration name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json", "ndjson", "jsonl":
		return FormatJSON, nil
	case "msgpack", "messagepack":
		return FormatMsgPack, nil
	default:
		return FormatAuto, fmt.Errorf("invalid input format: %s (expected auto, json or msgpack)", s)
	}
}

// FormatForKey guesses the format from an object key, ignoring a .gz suffix.
func FormatForKey(key string) Format {
	name := strings.TrimSuffix(strings.ToLower(path.Base(key)), ".gz")
	switch path.Ext(name) {
	case ".json", ".ndjson", ".jsonl":
		return FormatJSON
	case ".msgpack", ".mpk", ".mp":
		return FormatMsgPack
	default:
		return FormatAuto
	}
}

// sniff picks JSON when the payload starts with a JSON value.
func sniff(data []byte) Format {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[', '"':
			return FormatJSON
		default:
			return FormatMsgPack
		}
	}
	return FormatJSON
}

// Decoder decodes payloads and keeps running totals.
type Decoder struct {
	logger        zerolog.Logger
	maxSize       int64
	totalDecoded  atomic.Uint64
	totalErrors   atomic.Uint64
	totalGzipped  atomic.Uint64
	totalPayloads atomic.Uint64
}

// NewDecoder returns a Decoder. maxSize bounds decompressed payloads; zero
// uses DefaultMaxDecompressedSize.
func NewDecoder(maxSize int64, logger zerolog.Logger) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedSize
	}
	return &Decoder{
		logger:  logger.With().Str("component", "decoder").Logger(),
		maxSize: maxSize,
	}
}

// Decode reads r fully and decodes it.
func (d *Decoder) Decode(r io.Reader, format Format) ([]models.Value, error) {
	data, err := io.ReadAll(io.LimitReader(r, d.maxSize+1))
	if err != nil {
		d.totalErrors.Add(1)
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		d.totalErrors.Add(1)
		return nil, fmt.Errorf("payload exceeds %d byte limit", d.maxSize)
	}
	return d.DecodeBytes(data, format)
}

// DecodeBytes decodes data, gunzipping first when it carries the gzip
// magic bytes.
func (d *Decoder) DecodeBytes(data []byte, format Format) ([]models.Value, error) {
	d.totalPayloads.Add(1)
	if IsGzip(data) {
		raw, err := Gunzip(data, d.maxSize)
		if err != nil {
			d.totalErrors.Add(1)
			return nil, err
		}
		d.logger.Debug().Int("compressed_size", len(data)).Int("decompressed_size", len(raw)).
			Msg("Decompressed gzip payload")
		d.totalGzipped.Add(1)
		data = raw
	}
	if format == FormatAuto {
		format = sniff(data)
	}

	var docs []models.Value
	var err error
	switch format {
	case FormatMsgPack:
		docs, err = decodeMsgPack(data)
	default:
		docs, err = decodeJSON(data)
	}
	if err != nil {
		d.totalErrors.Add(1)
		return nil, err
	}
	d.totalDecoded.Add(uint64(len(docs)))
	return docs, nil
}

// Stats reports running totals.
func (d *Decoder) Stats() map[string]uint64 {
	return map[string]uint64{
		"payloads":  d.totalPayloads.Load(),
		"documents": d.totalDecoded.Load(),
		"gzipped":   d.totalGzipped.Load(),
		"errors":    d.totalErrors.Load(),
	}
}
