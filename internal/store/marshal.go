package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/ildecomp/internal/il"
)

// OptionsKey returns the canonical JSON of opts. It is the second half of a
// result's cache identity, so equal options always produce equal keys.
func OptionsKey(opts map[string]any) (string, error) {
	if opts == nil {
		opts = map[string]any{}
	}
	data, err := il.MarshalCanonical(opts)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	return string(data), nil
}

// unmarshalOptions parses canonical JSON TEXT back into plain values.
// Numbers decode as int64 so that a round trip keeps the same key.
func unmarshalOptions(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	for k, v := range obj {
		n, err := plainValue(v)
		if err != nil {
			return nil, fmt.Errorf("unmarshal options: %s: %w", k, err)
		}
		obj[k] = n
	}
	return obj, nil
}

func plainValue(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Int64()
	case []any:
		for i, e := range val {
			p, err := plainValue(e)
			if err != nil {
				return nil, err
			}
			val[i] = p
		}
	case map[string]any:
		for k, e := range val {
			p, err := plainValue(e)
			if err != nil {
				return nil, err
			}
			val[k] = p
		}
	}
	return v, nil
}
