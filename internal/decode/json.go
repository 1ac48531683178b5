package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	j "github.com/goccy/go-json"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// MaxDepth bounds document nesting.
const MaxDepth = 512

var errTooDeep = errors.New("document nesting exceeds maximum depth")

// decodeJSON reads every top-level value from data. A top-level array is
// a batch whose elements are documents; any other value is one document.
// This covers JSON arrays, single objects and newline-delimited JSON.
func decodeJSON(data []byte) ([]models.Value, error) {
	dec := j.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var docs []models.Value
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if delim, ok := tok.(j.Delim); ok && delim == '[' {
			for {
				tok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("invalid JSON: %w", err)
				}
				if d, ok := tok.(j.Delim); ok && d == ']' {
					break
				}
				v, err := readJSONValue(dec, tok, 1)
				if err != nil {
					return nil, err
				}
				docs = append(docs, v)
			}
			continue
		}
		v, err := readJSONValue(dec, tok, 0)
		if err != nil {
			return nil, err
		}
		docs = append(docs, v)
	}
}

// ParseJSON decodes a single JSON value, keeping object key order.
func ParseJSON(data []byte) (models.Value, error) {
	dec := j.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return models.Value{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return readJSONValue(dec, tok, 0)
}

func readJSONValue(dec *j.Decoder, tok interface{}, depth int) (models.Value, error) {
	if depth > MaxDepth {
		return models.Value{}, errTooDeep
	}
	switch t := tok.(type) {
	case nil:
		return models.Null(), nil
	case bool:
		return models.Bool(t), nil
	case string:
		return models.String(t), nil
	case j.Number:
		return models.NumberLiteral(string(t)), nil
	case float64:
		return models.Float(t), nil
	case j.Delim:
		switch t {
		case '{':
			return readJSONObject(dec, depth)
		case '[':
			return readJSONArray(dec, depth)
		}
	}
	return models.Value{}, fmt.Errorf("invalid JSON: unexpected token %v", tok)
}

func readJSONObject(dec *j.Decoder, depth int) (models.Value, error) {
	b := models.NewObjectBuilder(8)
	for {
		tok, err := dec.Token()
		if err != nil {
			return models.Value{}, fmt.Errorf("invalid JSON: %w", err)
		}
		if d, ok := tok.(j.Delim); ok && d == '}' {
			return models.ObjectValue(b.Build()), nil
		}
		key, ok := tok.(string)
		if !ok {
			return models.Value{}, fmt.Errorf("invalid JSON: object key %v is not a string", tok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return models.Value{}, fmt.Errorf("invalid JSON: %w", err)
		}
		v, err := readJSONValue(dec, valTok, depth+1)
		if err != nil {
			return models.Value{}, err
		}
		b.Set(key, v)
	}
}

func readJSONArray(dec *j.Decoder, depth int) (models.Value, error) {
	items := make([]models.Value, 0, 4)
	for {
		tok, err := dec.Token()
		if err != nil {
			return models.Value{}, fmt.Errorf("invalid JSON: %w", err)
		}
		if d, ok := tok.(j.Delim); ok && d == ']' {
			return models.Array(items...), nil
		}
		v, err := readJSONValue(dec, tok, depth+1)
		if err != nil {
			return models.Value{}, err
		}
		items = append(items, v)
	}
}
