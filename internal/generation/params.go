package generation

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Params are the arguments of one tool call as decoded from JSON. Getters
// are tolerant: numbers may arrive as strings and booleans as "true"/"1".
// A value of the wrong shape falls back to the default.
type Params map[string]any

// Lookup returns a string parameter and whether it was supplied at all.
func (p Params) Lookup(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// String returns the trimmed parameter, or def when it is missing or blank.
func (p Params) String(key, def string) string {
	s, _ := p.Lookup(key)
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	case float64:
		return v != 0
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f != 0
		}
	case int:
		return v != 0
	}
	return def
}

func (p Params) Int(key string, def int) int {
	f, ok := p.number(key)
	if !ok || math.IsInf(f, 0) || f != math.Trunc(f) {
		return def
	}
	return int(f)
}

// Seconds reads a duration given in (possibly fractional) seconds.
// Non-positive values fall back to def.
func (p Params) Seconds(key string, def time.Duration) time.Duration {
	f, ok := p.number(key)
	if !ok || !(f > 0) || math.IsInf(f, 0) {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func (p Params) number(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
