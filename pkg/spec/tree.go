package spec

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// asMap returns v as a string-keyed mapping.
func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// stringList returns the string items of a sequence, skipping anything else.
func stringList(v any) []string {
	items, ok := asSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toFloat converts any numeric scalar produced by the parser to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// isNumber reports whether v is a finite number.
func isNumber(v any) bool {
	f, ok := toFloat(v)
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isInteger(v any) bool {
	f, ok := toFloat(v)
	return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
}

// formatScalar returns the natural string form of a scalar value.
// Floats use the shortest decimal representation, so 0.01 stays 0.01, and
// switch to exponent form from 1e21 up. NaN and infinities have no form.
func formatScalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		if math.Abs(x) >= 1e21 {
			return strconv.FormatFloat(x, 'g', -1, 64), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// equalValue compares two scalars, treating all numeric types as equal by value.
func equalValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return a == b
}

// deepCopy clones the maps and sequences of a generic tree. Scalars are shared.
func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

// normalizeKeys converts mappings with non-string keys, as produced by the YAML
// decoder for keys like `1:` or `true:`, into string-keyed mappings.
func normalizeKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeKeys(item)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = normalizeKeys(item)
		}
		return out
	case []any:
		for i, item := range x {
			x[i] = normalizeKeys(item)
		}
		return x
	default:
		return v
	}
}
