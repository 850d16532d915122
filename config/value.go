package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-rtdc/dfn"
)

// ParseValue converts a raw configuration value to its presumed type.
//
// The rules are tried in order: a bracketed comma list becomes []float64,
// true/y and false/n (any case) become booleans, a quoted value is
// unquoted, a known categorical identifier stays a string, anything that
// parses as a float (with ',' accepted as decimal separator) becomes
// float64, and everything else stays a string.
func ParseValue(raw string) any {
	val := strings.TrimSpace(raw)
	if val == "" {
		return val
	}

	if strings.HasPrefix(val, "[") && strings.HasSuffix(val, "]") {
		inner := strings.Trim(val, "[],")
		if inner == "" {
			return []float64{}
		}
		parts := strings.Split(inner, ",")
		list := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return val
			}
			list = append(list, f)
		}
		return list
	}

	switch strings.ToLower(val) {
	case "true", "y":
		return true
	case "false", "n":
		return false
	}

	if isQuote(val[0]) && isQuote(val[len(val)-1]) {
		return strings.TrimSpace(strings.Trim(strings.Trim(val, "'"), `"`))
	}

	if dfn.IsCategorical(val) {
		return val
	}

	if f, err := strconv.ParseFloat(strings.ReplaceAll(val, ",", "."), 64); err == nil {
		return f
	}
	return val
}

func isQuote(b byte) bool {
	return b == '\'' || b == '"'
}

// CoerceValue returns the stored form of v. Strings go through ParseValue,
// integers and float32 become float64 and numeric slices become []float64.
// Other values pass through unchanged.
func CoerceValue(v any) any {
	if s, ok := v.(string); ok {
		return ParseValue(s)
	}
	return normalize(v)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []float64:
		return append([]float64{}, x...)
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out
	case []float32:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out
	}
	return v
}

// FormatValue renders a value the way it is written to configuration text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = FormatValue(f)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case float32:
		return FormatValue(float64(x))
	case float64:
		switch {
		case math.IsNaN(x):
			return "nan"
		case math.IsInf(x, 1):
			return "inf"
		case math.IsInf(x, -1):
			return "-inf"
		}
		return strconv.FormatFloat(x, 'f', 12, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	}
	return fmt.Sprintf("%v", v)
}
