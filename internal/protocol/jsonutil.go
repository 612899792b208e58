package protocol

// Small, repeated type-assertion helpers shared by every codec. JSON
// payloads arrive as map[string]any (from encoding/json.Decode into
// map[string]any), so every nested access needs a defensive type check —
// malformed or absent fields must be skipped, never panic.

func GetString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func GetBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetFloat handles the fact that encoding/json decodes all JSON numbers
// into float64 when the target is any/interface{}.
func GetFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func GetInt(m map[string]any, key string) (int, bool) {
	f, ok := GetFloat(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func GetMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	mm, ok := v.(map[string]any)
	return mm, ok
}

func GetSlice(m map[string]any, key string) ([]any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// PtrFloat / PtrInt / PtrBool convert an "ok"-qualified primitive into a
// pointer, or nil when absent — the shape ir.GenerationConfig expects.
func PtrFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func PtrInt(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}

func PtrBool(v bool, ok bool) *bool {
	if !ok {
		return nil
	}
	return &v
}
