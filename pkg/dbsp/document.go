package dbsp

import (
	"encoding/json"
	"fmt"
)

// Document represents an unstructured record as map[string]any. Can contain embedded maps, slices
// and primitives (int64, float64, string, bool).
type Document = map[string]any

// Key returns the canonical JSON representation of a document. This is the function that defines
// record identity: two documents are the same record iff their keys are equal. Map fields are
// emitted in sorted order by encoding/json, so the key does not depend on insertion order.
func Key(doc Document) (string, error) {
	bytes, err := json.Marshal(normalize(doc))
	if err != nil {
		return "", newZSetError("failed to marshal document to JSON", err)
	}
	return string(bytes), nil
}

// MustKey is like Key but panics on error. Only use it on documents built from primitives.
func MustKey(doc Document) string {
	key, err := Key(doc)
	if err != nil {
		panic(err)
	}
	return key
}

// ParseKey restores a document from its canonical key. Integers come back as int64.
func ParseKey(key string) (Document, error) {
	var raw any
	if err := json.Unmarshal([]byte(key), &raw); err != nil {
		return nil, newZSetError("failed to parse document key", err)
	}
	doc, ok := denormalize(raw).(Document)
	if !ok {
		return nil, newZSetError(fmt.Sprintf("key %q does not encode an object", key), nil)
	}
	return doc, nil
}

// normalize maps the numeric Go types that appear in hand-built records onto int64 so that
// Document{"n": 1} and Document{"n": int64(1)} share a key.
func normalize(val any) any {
	switch v := val.(type) {
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, sub := range v {
			ret[k] = normalize(sub)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = normalize(sub)
		}
		return ret
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return v
	}
}

// denormalize converts decoded JSON numbers back to int64 when they are integral.
func denormalize(val any) any {
	switch v := val.(type) {
	case map[string]any:
		for k, sub := range v {
			v[k] = denormalize(sub)
		}
		return v
	case []any:
		for i, sub := range v {
			v[i] = denormalize(sub)
		}
		return v
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	default:
		return v
	}
}

// DeepCopyDocument creates a deep copy of a document.
func DeepCopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return deepCopy(doc).(Document)
}

func deepCopy(val any) any {
	switch v := val.(type) {
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, sub := range v {
			ret[k] = deepCopy(sub)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = deepCopy(sub)
		}
		return ret
	default:
		// primitives
		return v
	}
}

// Int extracts an integer field from a document, accepting any of the numeric types a record may
// carry after decoding.
func Int(doc Document, field string) (int64, bool) {
	switch v := doc[field].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
