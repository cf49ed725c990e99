package models

import "fmt"

// textParamKeys are the generation parameters backends understand. A
// configured param outside this set is rejected rather than silently dropped.
var textParamKeys = map[string]struct{}{
	"temperature": {},
	"top_p":       {},
	"max_tokens":  {},
}

// ValidateTextParams rejects unknown generation parameters.
func ValidateTextParams(params map[string]any) error {
	for key := range params {
		if _, ok := textParamKeys[key]; !ok {
			return fmt.Errorf("unsupported model param %q", key)
		}
	}
	return nil
}

// FloatParam reads a numeric parameter, accepting the integer forms TOML
// decoding produces.
func FloatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// IntParam reads an integer parameter, accepting the float form JSON
// decoding produces.
func IntParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
