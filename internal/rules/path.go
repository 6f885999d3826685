// Package rules holds the pure parts of dispatch: payload path lookup,
// condition matching, recipient resolution and template rendering. Nothing
// here performs I/O or returns an error.
package rules

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup resolves a dot-separated path inside a decoded JSON payload. A
// top-level key that literally contains the whole path wins over a nested
// walk, so {"a.b": 1} resolves "a.b" to 1. Maps are walked by key and slices
// by decimal index. A present null value reports ok=true with a nil value.
func Lookup(payload map[string]any, path string) (any, bool) {
	if payload == nil || path == "" {
		return nil, false
	}
	if v, ok := payload[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var cur any = payload
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case map[string]string:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

// number is a scalar numeric value normalised across Go representations so
// that an int from YAML compares equal to a float64 from encoding/json.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func (a number) equal(b number) bool {
	if a.isInt && b.isInt {
		return a.i == b.i
	}
	return a.float() == b.float()
}

func (a number) float() float64 {
	if a.isInt {
		return float64(a.i)
	}
	return a.f
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{i: int64(n), isInt: true}, true
	case int8:
		return number{i: int64(n), isInt: true}, true
	case int16:
		return number{i: int64(n), isInt: true}, true
	case int32:
		return number{i: int64(n), isInt: true}, true
	case int64:
		return number{i: n, isInt: true}, true
	case uint:
		return number{i: int64(n), isInt: true}, true
	case uint8:
		return number{i: int64(n), isInt: true}, true
	case uint16:
		return number{i: int64(n), isInt: true}, true
	case uint32:
		return number{i: int64(n), isInt: true}, true
	case uint64:
		return number{i: int64(n), isInt: true}, true
	case float32:
		return fromFloat(float64(n)), true
	case float64:
		return fromFloat(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i, isInt: true}, true
		}
		if f, err := n.Float64(); err == nil {
			return fromFloat(f), true
		}
	}
	return number{}, false
}

// fromFloat keeps whole floats in the integer domain so 42.0 and 42 agree
// exactly.
func fromFloat(f float64) number {
	if f >= -(1<<53) && f <= 1<<53 && f == float64(int64(f)) {
		return number{i: int64(f), isInt: true}
	}
	return number{f: f}
}
