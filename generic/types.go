/*
Package generic provides the domain-agnostic foundation of the attendance engine.

PURPOSE:
  This package contains the pieces every domain package builds on: a
  hierarchical key/value store contract, path helpers, the organizational
  clock and civil dates, and the store-level error taxonomy. Nothing in here
  knows what a user, a session, or an event is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Path: A slash-separated address into the tree ("users/u1/stats")
  - Tree values: JSON-compatible values (map[string]any, string, float64, bool)
  - ToTree / Decode: Conversion between Go structs and tree values

DESIGN PRINCIPLES:
  1. Pluggable store: the engine only speaks Read / Write / BatchWrite
  2. Normalized values: everything written is JSON-normalized, so every
     store implementation returns identical shapes
  3. Reserved characters: path segments never contain . # $ [ ] or /

USAGE:
  p := generic.Join("users", "u-1", "stats")
  v, err := store.Read(ctx, p)
  var stats Stats
  err = generic.Decode(v, &stats)

SEE ALSO:
  - store.go: TreeStore and Batch
  - time.go: Clock and Date
  - errors.go: Store errors
*/
package generic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// PATHS
// =============================================================================

const reservedKeyChars = ".#$[]/"

// Join builds a path from segments. Empty segments are skipped.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

// Split returns the segments of a path.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ValidatePath checks that every segment is non-empty and free of reserved characters.
// The empty path addresses the root and is valid for reads only.
func ValidatePath(path string) error {
	for _, seg := range Split(path) {
		if seg == "" || strings.ContainsAny(seg, ".#$[]") {
			return &PathError{Path: path, Segment: seg}
		}
	}
	return nil
}

// SafeKey replaces reserved characters so s can be used as a single path segment.
func SafeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(reservedKeyChars, r) {
			b.WriteRune('-')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// TREE VALUES
// =============================================================================

// ToTree converts v into a JSON-normalized tree value.
// Structs become map[string]any, numbers become float64.
func ToTree(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tree value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize tree value: %w", err)
	}
	return out, nil
}

// Decode converts a tree value into out (a pointer).
// A nil value leaves out untouched.
func Decode(v any, out any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode tree value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode tree value: %w", err)
	}
	return nil
}

// Children returns the value as a map of child nodes, or nil if it is a leaf or absent.
func Children(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// Flatten walks a tree value and calls fn for every leaf with its full path.
// Empty maps produce no leaves.
func Flatten(base string, v any, fn func(path string, leaf any)) {
	if m, ok := v.(map[string]any); ok {
		for k, child := range m {
			Flatten(Join(base, k), child, fn)
		}
		return
	}
	if v == nil {
		return
	}
	fn(base, v)
}

// PruneEmpty removes empty maps from a tree value. A value that is nothing
// but empty maps prunes to nil.
func PruneEmpty(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if pruned := PruneEmpty(child); pruned == nil {
			delete(m, k)
		} else {
			m[k] = pruned
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
