package decode

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxDecompressedSize bounds gunzipped payloads.
const DefaultMaxDecompressedSize = 512 * 1024 * 1024

// gzip readers carry ~32KB of state; Reset lets us reuse it
var gzipReaderPool = sync.Pool{}

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Gunzip decompresses data, failing when the output exceeds limit bytes.
func Gunzip(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxDecompressedSize
	}

	var reader *gzip.Reader
	var err error
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		err = reader.Reset(bytes.NewReader(data))
	} else {
		reader, err = gzip.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		if reader != nil {
			gzipReaderPool.Put(reader)
		}
		return nil, fmt.Errorf("failed to initialize gzip reader: %w", err)
	}
	defer gzipReaderPool.Put(reader)

	buf := bytes.NewBuffer(make([]byte, 0, len(data)*4))
	n, err := io.Copy(buf, io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("decompressed payload exceeds %d byte limit", limit)
	}
	return buf.Bytes(), nil
}

// Gzip compresses data. Used for writing fixtures and test payloads.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
