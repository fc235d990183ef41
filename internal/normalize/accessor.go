package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const unknown = "Unknown"

// lookup walks path through nested maps. It returns false at the first
// missing key or at a value that is not a map where one is needed.
func lookup(record map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = record
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	default:
		return nil, false
	}
}

// lookupString returns the string at path, "Unknown" when missing or empty
func lookupString(record map[string]interface{}, path ...string) string {
	v, ok := lookup(record, path...)
	if !ok {
		return unknown
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// lookupFloat returns the number at path, nil when missing or not numeric
func lookupFloat(record map[string]interface{}, path ...string) *float64 {
	v, ok := lookup(record, path...)
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// lookupInt returns the number at path rounded to an int, nil when missing
func lookupInt(record map[string]interface{}, path ...string) *int {
	f := lookupFloat(record, path...)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// firstDescription reads weather[0].description
func firstDescription(record map[string]interface{}) string {
	v, ok := lookup(record, "weather")
	if !ok {
		return unknown
	}
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return unknown
	}
	first, ok := asMap(list[0])
	if !ok {
		return unknown
	}
	return lookupString(first, "description")
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
