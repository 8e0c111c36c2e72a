// Package store provides in-process TreeStore and AuditLog implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory tree (for testing/dev)
// =============================================================================

// Memory keeps the tree as nested maps guarded by a RWMutex.
// BatchWrite is atomic: the batch is validated and normalized before any
// update is applied, and applying cannot fail.
type Memory struct {
	mu   sync.RWMutex
	root map[string]any
}

func NewMemory() *Memory {
	return &Memory{root: make(map[string]any)}
}

var _ generic.TreeStore = (*Memory)(nil)

// Atomic is always true for the in-memory tree.
func (m *Memory) Atomic() bool { return true }

// Read returns a deep copy of the subtree at path.
func (m *Memory) Read(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, generic.FromContext(err)
	}
	if err := generic.ValidatePath(path); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var node any = m.root
	for _, seg := range generic.Split(path) {
		children, ok := node.(map[string]any)
		if !ok {
			return nil, nil
		}
		node, ok = children[seg]
		if !ok {
			return nil, nil
		}
	}
	if children, ok := node.(map[string]any); ok && len(children) == 0 {
		return nil, nil
	}
	return deepCopy(node), nil
}

// Write replaces the subtree at path.
func (m *Memory) Write(ctx context.Context, path string, value any) error {
	var b generic.Batch
	b.Set(path, value)
	return m.BatchWrite(ctx, b)
}

// BatchWrite applies the batch in order, all or nothing.
func (m *Memory) BatchWrite(ctx context.Context, batch generic.Batch) error {
	normalized, err := batch.Normalize()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Deadline is checked once, before anything is applied.
	if err := ctx.Err(); err != nil {
		return generic.FromContext(err)
	}

	for _, u := range normalized.Updates {
		m.setLocked(generic.Split(u.Path), u.Value)
	}
	return nil
}

func (m *Memory) setLocked(segs []string, value any) {
	parents := make([]map[string]any, 0, len(segs))
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, node)
		child, ok := node[seg].(map[string]any)
		if !ok {
			if value == nil {
				return // nothing to delete
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}

	last := segs[len(segs)-1]
	if value == nil || isEmptyMap(value) {
		delete(node, last)
		// Prune empty ancestors so deleted branches read back as nil.
		for i := len(parents) - 1; i >= 0 && len(node) == 0; i-- {
			delete(parents[i], segs[i])
			node = parents[i]
		}
		return
	}
	node[last] = value
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = make(map[string]any)
	return nil
}

func isEmptyMap(v any) bool {
	mv, ok := v.(map[string]any)
	return ok && len(mv) == 0
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// MEMORY AUDIT LOG
// =============================================================================

type MemoryAudit struct {
	mu      sync.RWMutex
	entries []generic.AuditEntry
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

var _ generic.AuditLog = (*MemoryAudit)(nil)

func (a *MemoryAudit) Append(_ context.Context, entry generic.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// Query returns matching entries, newest first.
func (a *MemoryAudit) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []generic.AuditEntry
	for _, e := range a.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
