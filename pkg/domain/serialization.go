package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// decodeJSON decodes data into v using json.Number for numeric values and rejects
// trailing garbage, which is how truncated or concatenated state files show up.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected trailing data after JSON document")
	}
	return nil
}

// DecodeJSON is the exported form of the decoder used for persisted documents.
func DecodeJSON(data []byte, v any) error {
	return decodeJSON(data, v)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case ModuleConfig:
		return ModuleConfig(cloneMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// ClonePayload returns a deep copy of an event payload.
func ClonePayload(p map[string]any) map[string]any {
	return cloneMap(p)
}
