package cache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/klauspost/compress/zstd"
)

// valueCodec stores a model's property values as zstd-compressed JSON.
type valueCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newValueCodec() (*valueCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &valueCodec{enc: enc, dec: dec}, nil
}

func (c *valueCodec) encode(values map[string]json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *valueCodec) decode(blob []byte) (map[string]json.RawMessage, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress values: %w", err)
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	return values, nil
}

func (c *valueCodec) close() {
	c.enc.Close()
	c.dec.Close()
}

// mergeRaw returns existing with every value of update re-encoded over it.
func mergeRaw(existing map[string]json.RawMessage, update map[string]any) (map[string]json.RawMessage, error) {
	if existing == nil {
		existing = make(map[string]json.RawMessage, len(update))
	}
	for k, v := range update {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", k, err)
		}
		existing[k] = b
	}
	return existing, nil
}

// generic decodes raw values into plain JSON types for matching and
// ordering.
func generic(raw map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(raw))
	for k, b := range raw {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			out[k] = v
		}
	}
	return out
}

// typed decodes one raw value into t.
func typed(b json.RawMessage, t reflect.Type) (any, bool) {
	if len(b) == 0 || string(b) == "null" {
		return nil, false
	}
	if t == nil {
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, false
		}
		return v, true
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(b, ptr.Interface()); err != nil {
		return nil, false
	}
	return ptr.Elem().Interface(), true
}
