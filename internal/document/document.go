// Package document models a settings file as an opaque JSON object tree.
//
// The engine never interprets keys; callers own the meaning of the contents.
// Documents handed across package boundaries are always deep copies, so a
// caller mutating its working copy can never corrupt cached state.
package document

import (
	"fmt"
	"strings"
)

// Document is a JSON-representable key/value tree. Values are the types
// encoding/json produces: map[string]any, []any, string, float64, bool, nil.
type Document = map[string]any

// New returns an empty document.
func New() Document {
	return Document{}
}

// Clone creates a deep copy of a document. A nil document clones to an
// empty one so callers always receive a usable map.
func Clone(d Document) Document {
	if d == nil {
		return Document{}
	}
	return cloneMap(d)
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = cloneValue(val)
	}
	return dst
}

func cloneSlice(src []any) []any {
	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = cloneValue(val)
	}
	return dst
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		return cloneSlice(v)
	default:
		return val
	}
}

// ParsePath splits a dot-delimited key path into segments, validating once
// at the API boundary. Mutation and lookup operate on segments only, so a
// path is never re-split downstream.
func ParsePath(keyPath string) ([]string, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("SET_KEY_PATH: empty key path")
	}
	segments := strings.Split(keyPath, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("SET_KEY_PATH: empty segment in key path %q", keyPath)
		}
	}
	return segments, nil
}

// TypeMismatchError reports a nested update that ran into an intermediate
// node which exists but is not an object. The engine refuses to overwrite
// such nodes rather than silently dropping data.
type TypeMismatchError struct {
	Path    []string
	Segment string
	Value   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("SET_KEY_TYPE: segment %q of %q is %T, not an object",
		e.Segment, strings.Join(e.Path, "."), e.Value)
}

// Get retrieves the value at path. The second return is false when any
// segment is missing or an intermediate is not an object.
func Get(d Document, path []string) (any, bool) {
	if d == nil || len(path) == 0 {
		return nil, false
	}
	current := any(d)
	for _, seg := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[seg]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// Set writes value at path, creating intermediate objects for missing
// segments. If an intermediate segment exists and is not an object the
// document is left unchanged and a *TypeMismatchError is returned.
func Set(d Document, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("SET_KEY_PATH: empty key path")
	}
	current := d
	for i := 0; i < len(path)-1; i++ {
		seg := path[i]
		existing, ok := current[seg]
		if !ok {
			next := make(map[string]any)
			current[seg] = next
			current = next
			continue
		}
		next, ok := existing.(map[string]any)
		if !ok {
			return &TypeMismatchError{Path: path, Segment: seg, Value: existing}
		}
		current = next
	}
	current[path[len(path)-1]] = value
	return nil
}

// Delete removes the value at path. Returns true if the value existed.
// Missing or non-object intermediates simply report false; deletion of an
// absent key is not an error.
func Delete(d Document, path []string) bool {
	if d == nil || len(path) == 0 {
		return false
	}
	current := d
	for i := 0; i < len(path)-1; i++ {
		next, ok := current[path[i]].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	key := path[len(path)-1]
	if _, exists := current[key]; !exists {
		return false
	}
	delete(current, key)
	return true
}

// Equal compares two documents structurally.
func Equal(a, b Document) bool {
	return mapsEqual(a, b)
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		return ok && mapsEqual(va, vb)
	case []any:
		vb, ok := b.([]any)
		return ok && slicesEqual(va, vb)
	default:
		return a == b
	}
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !valuesEqual(va, vb) {
			return false
		}
	}
	return true
}

func slicesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
