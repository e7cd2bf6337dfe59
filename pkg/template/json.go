package template

import "encoding/json"

// marshalJSON renders a value through encoding/json, which sorts map keys
// alphabetically, giving to_json deterministic output across runs.
func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
