package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}

// Columns returns the keys of a row.
func (m JSONMap) Columns() []string {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	return cols
}

// Stringify renders a cell value the way it is shown to the calling service:
// whole floats lose their fraction, nil becomes the empty string and lists are
// joined with "; ".
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return Stringify(float64(val))
	case json.Number:
		return val.String()
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := Stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case []string:
		return strings.Join(val, "; ")
	case map[string]interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
