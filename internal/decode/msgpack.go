package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// decodeMsgPack reads every top-level value from data. As with JSON, a
// top-level array is a batch of documents.
func decodeMsgPack(data []byte) ([]models.Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var docs []models.Value
	for {
		c, err := dec.PeekCode()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal msgpack: %w", err)
		}
		if isArrayCode(c) {
			n, err := dec.DecodeArrayLen()
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal msgpack: %w", err)
			}
			for i := 0; i < n; i++ {
				v, err := readMsgPackValue(dec, 1)
				if err != nil {
					return nil, err
				}
				docs = append(docs, v)
			}
			continue
		}
		v, err := readMsgPackValue(dec, 0)
		if err != nil {
			return nil, err
		}
		docs = append(docs, v)
	}
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

func isMapCode(c byte) bool {
	return msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32
}

// readMsgPackValue walks maps and arrays by hand so map key order is kept;
// scalars go through the library's loose decoding.
func readMsgPackValue(dec *msgpack.Decoder, depth int) (models.Value, error) {
	if depth > MaxDepth {
		return models.Value{}, errTooDeep
	}
	c, err := dec.PeekCode()
	if err != nil {
		return models.Value{}, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}

	switch {
	case c == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return models.Value{}, err
		}
		return models.Null(), nil
	case c == msgpcode.True || c == msgpcode.False:
		b, err := dec.DecodeBool()
		if err != nil {
			return models.Value{}, err
		}
		return models.Bool(b), nil
	case isMapCode(c):
		n, err := dec.DecodeMapLen()
		if err != nil {
			return models.Value{}, fmt.Errorf("failed to unmarshal msgpack: %w", err)
		}
		if n < 0 {
			return models.Null(), nil
		}
		b := models.NewObjectBuilder(n)
		for i := 0; i < n; i++ {
			key, err := dec.DecodeInterfaceLoose()
			if err != nil {
				return models.Value{}, fmt.Errorf("failed to unmarshal msgpack key: %w", err)
			}
			v, err := readMsgPackValue(dec, depth+1)
			if err != nil {
				return models.Value{}, err
			}
			b.Set(keyString(key), v)
		}
		return models.ObjectValue(b.Build()), nil
	case isArrayCode(c):
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return models.Value{}, fmt.Errorf("failed to unmarshal msgpack: %w", err)
		}
		if n < 0 {
			return models.Null(), nil
		}
		items := make([]models.Value, 0, n)
		for i := 0; i < n; i++ {
			v, err := readMsgPackValue(dec, depth+1)
			if err != nil {
				return models.Value{}, err
			}
			items = append(items, v)
		}
		return models.Array(items...), nil
	}

	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return models.Value{}, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}
	if t, ok := raw.(time.Time); ok {
		return models.String(t.UTC().Format(time.RFC3339Nano)), nil
	}
	return models.FromAny(raw)
}

func keyString(k interface{}) string {
	switch t := k.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// EncodeMsgPack renders docs as a msgpack array, keeping key order.
func EncodeMsgPack(docs []models.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(docs)); err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := encodeMsgPackValue(enc, d); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeMsgPackValue(enc *msgpack.Encoder, v models.Value) error {
	switch v.Kind() {
	case models.KindNull:
		return enc.EncodeNil()
	case models.KindBool:
		b, _ := v.AsBool()
		return enc.EncodeBool(b)
	case models.KindString:
		s, _ := v.AsString()
		return enc.EncodeString(s)
	case models.KindNumber:
		n, _ := v.AsNumber()
		if n.IsInteger() {
			if i, err := n.Int64(); err == nil {
				return enc.EncodeInt(i)
			}
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		return enc.EncodeFloat64(f)
	case models.KindArray:
		items := v.AsArray()
		if err := enc.EncodeArrayLen(len(items)); err != nil {
			return err
		}
		for _, item := range items {
			if err := encodeMsgPackValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	default:
		obj := v.AsObject()
		if err := enc.EncodeMapLen(obj.Len()); err != nil {
			return err
		}
		var err error
		obj.Range(func(k string, val models.Value) bool {
			if err = enc.EncodeString(k); err != nil {
				return false
			}
			err = encodeMsgPackValue(enc, val)
			return err == nil
		})
		return err
	}
}
