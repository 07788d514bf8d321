package model

import (
	"encoding/json"
	"math"
)

// cleanValue replaces values JSON cannot carry (NaN, ±Inf) with nil
func cleanValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
		return val
	case float32:
		if math.IsInf(float64(val), 0) || math.IsNaN(float64(val)) {
			return nil
		}
		return val
	case StringFloat64:
		return cleanValue(float64(val))
	case map[string]any:
		return CleanJSON(val)
	case []any:
		cleaned := make([]any, len(val))
		for i, item := range val {
			cleaned[i] = cleanValue(item)
		}
		return cleaned
	default:
		return v
	}
}

// CleanJSON recursively cleans data to ensure it's JSON serializable
func CleanJSON(data map[string]any) map[string]any {
	cleaned := make(map[string]any, len(data))
	for k, v := range data {
		cleaned[k] = cleanValue(v)
	}
	return cleaned
}

// ValidateJSON ensures the data can be marshaled to JSON
func ValidateJSON(data map[string]any) ([]byte, error) {
	return json.Marshal(CleanJSON(data))
}
