package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ConditionOp is a comparison operator understood by Condition.
type ConditionOp string

const (
	OpEq       ConditionOp = "eq"
	OpNe       ConditionOp = "ne"
	OpGt       ConditionOp = "gt"
	OpGte      ConditionOp = "gte"
	OpLt       ConditionOp = "lt"
	OpLte      ConditionOp = "lte"
	OpExists   ConditionOp = "exists"
	OpContains ConditionOp = "contains"
)

// Condition gates delivery of an event on one payload field.
// Field uses dot notation to reach nested maps (e.g. "osc.address").
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value,omitempty"`
}

// Validate checks that the condition is well formed.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpExists, OpContains:
		return nil
	default:
		return fmt.Errorf("unknown condition operator %q", c.Op)
	}
}

// Match evaluates the condition against a payload.
func (c Condition) Match(payload map[string]any) bool {
	v, ok := lookupPath(payload, c.Field)
	if c.Op == OpExists {
		return ok
	}
	if !ok {
		// ne is the only operator a missing field can satisfy
		return c.Op == OpNe
	}

	switch c.Op {
	case OpEq:
		return valuesEqual(v, c.Value)
	case OpNe:
		return !valuesEqual(v, c.Value)
	case OpContains:
		return contains(v, c.Value)
	}

	a, okA := toFloat(v)
	b, okB := toFloat(c.Value)
	if !okA || !okB {
		return false
	}
	switch c.Op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

// Transform reshapes a payload before delivery.
// Steps are applied in order: Pick, Rename, Set.
type Transform struct {
	Pick   []string          `json:"pick,omitempty"`
	Rename map[string]string `json:"rename,omitempty"`
	Set    map[string]any    `json:"set,omitempty"`
}

// Apply returns a transformed copy of payload. The input map is never mutated.
func (t Transform) Apply(payload map[string]any) map[string]any {
	out := cloneMap(payload)
	if out == nil {
		out = make(map[string]any)
	}
	if len(t.Pick) > 0 {
		picked := make(map[string]any, len(t.Pick))
		for _, k := range t.Pick {
			if v, ok := out[k]; ok {
				picked[k] = v
			}
		}
		out = picked
	}
	for from, to := range t.Rename {
		if v, ok := out[from]; ok {
			delete(out, from)
			out[to] = v
		}
	}
	for k, v := range t.Set {
		out[k] = cloneValue(v)
	}
	return out
}

func (t Transform) clone() Transform {
	out := Transform{
		Pick: append([]string(nil), t.Pick...),
		Set:  cloneMap(t.Set),
	}
	if t.Rename != nil {
		out.Rename = make(map[string]string, len(t.Rename))
		for k, v := range t.Rename {
			out.Rename[k] = v
		}
	}
	return out
}

func lookupPath(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func valuesEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle))
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range h {
			if item == fmt.Sprint(needle) {
				return true
			}
		}
	}
	return false
}

// toFloat converts the numeric types a payload can carry (Go ints, floats, json.Number).
// Strings are not coerced.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
