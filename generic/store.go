/*
store.go - Persistence interface for the hierarchical key/value tree

PURPOSE:
  Defines the interface between the domain logic and the backing store.
  The store is a tree addressed by slash-separated paths, in the manner of
  a realtime document database. Different implementations can use SQLite
  or in-memory storage.

KEY INTERFACES:
  TreeStore: Read a subtree, Write (replace) a subtree, BatchWrite many paths
  AuditLog:  Append-only record of reconciliation attempts (audit.go)

WRITE SEMANTICS:
  - Write(path, v) replaces the whole subtree at path with v
  - Write(path, nil) deletes the subtree
  - Writing under a path whose ancestor is a leaf replaces that leaf
  - Empty maps are not stored (reading them back yields nil)

ATOMIC BATCHES:
  BatchWrite() applies an ordered list of updates. Implementations that can
  apply the batch all-or-nothing report Atomic() == true. Callers order
  their batches so that, if a non-atomic store fails part-way, the last
  update is the one that makes the change externally visible.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite leaves table, one SQL transaction per batch
  - generic/store/memory.go: In-memory nested maps for testing and dev

EXAMPLE:
  var b generic.Batch
  b.Set("attendance/aurora/2025-03-02/1740931200000-u-1", record)
  b.Set("users/u-1/sessions/1740931200000-u-1", entry) // visible last
  err := store.BatchWrite(ctx, b)

SEE ALSO:
  - types.go: Path helpers and tree value conversion
*/
package generic

import "context"

// =============================================================================
// TREE STORE
// =============================================================================

// TreeStore is a hierarchical key/value store reachable by path.
type TreeStore interface {
	// Read returns the subtree at path, or nil if nothing is stored there.
	Read(ctx context.Context, path string) (any, error)

	// Write replaces the subtree at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error

	// BatchWrite applies all updates in order.
	BatchWrite(ctx context.Context, batch Batch) error

	// Atomic reports whether BatchWrite is all-or-nothing.
	Atomic() bool
}

// =============================================================================
// BATCH
// =============================================================================

// Update is a single path write inside a batch. Nil Value deletes.
type Update struct {
	Path  string
	Value any
}

// Batch is an ordered multi-path update.
type Batch struct {
	Updates []Update
}

// Set appends a write of value at path.
func (b *Batch) Set(path string, value any) {
	b.Updates = append(b.Updates, Update{Path: path, Value: value})
}

// Delete appends a deletion of path.
func (b *Batch) Delete(path string) {
	b.Updates = append(b.Updates, Update{Path: path})
}

// Append adds all updates of other after the updates already in b.
func (b *Batch) Append(other Batch) {
	b.Updates = append(b.Updates, other.Updates...)
}

// Len returns the number of updates.
func (b Batch) Len() int { return len(b.Updates) }

// Paths lists the paths in write order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Updates))
	for i, u := range b.Updates {
		paths[i] = u.Path
	}
	return paths
}

// Normalize validates every path and converts every value with ToTree.
func (b Batch) Normalize() (Batch, error) {
	out := Batch{Updates: make([]Update, len(b.Updates))}
	for i, u := range b.Updates {
		if u.Path == "" {
			return Batch{}, &PathError{Path: u.Path}
		}
		if err := ValidatePath(u.Path); err != nil {
			return Batch{}, err
		}
		v, err := ToTree(u.Value)
		if err != nil {
			return Batch{}, err
		}
		out.Updates[i] = Update{Path: Join(u.Path), Value: PruneEmpty(v)}
	}
	return out, nil
}
