package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// PATHS
// =============================================================================

func TestJoinSplit(t *testing.T) {
	assert.Equal(t, "users/u1/stats", generic.Join("users", "/u1/", "", "stats"))
	assert.Equal(t, []string{"users", "u1"}, generic.Split("/users/u1/"))
	assert.Nil(t, generic.Split(""))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, generic.ValidatePath(""))
	assert.NoError(t, generic.ValidatePath("attendance/aurora/2025-03-03"))

	for _, bad := range []string{"users/u.1", "a/#b", "a/$", "x/[0]", "a//b"} {
		err := generic.ValidatePath(bad)
		assert.ErrorIs(t, err, generic.ErrInvalidPath, bad)
	}
}

func TestSafeKey(t *testing.T) {
	assert.Equal(t, "a-b-c", generic.SafeKey("a.b/c"))
	assert.NoError(t, generic.ValidatePath(generic.SafeKey("x.#$[]")))
}

// =============================================================================
// TREE VALUES
// =============================================================================

type sample struct {
	Name  string   `json:"name"`
	Hours *float64 `json:"hours,omitempty"`
	Count int      `json:"count"`
}

func TestToTreeAndDecode(t *testing.T) {
	hours := 2.5
	tree, err := generic.ToTree(sample{Name: "x", Hours: &hours, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "hours": 2.5, "count": float64(3)}, tree)

	var back sample
	require.NoError(t, generic.Decode(tree, &back))
	assert.Equal(t, "x", back.Name)
	assert.Equal(t, 3, back.Count)

	untouched := sample{Name: "keep"}
	require.NoError(t, generic.Decode(nil, &untouched))
	assert.Equal(t, "keep", untouched.Name)
}

func TestFlattenAndPrune(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{"b": 1.0, "empty": map[string]any{}},
		"c": "x",
	}
	leaves := map[string]any{}
	generic.Flatten("root", tree, func(p string, v any) { leaves[p] = v })
	assert.Equal(t, map[string]any{"root/a/b": 1.0, "root/c": "x"}, leaves)

	pruned := generic.PruneEmpty(tree)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}, "c": "x"}, pruned)
	assert.Nil(t, generic.PruneEmpty(map[string]any{"x": map[string]any{}}))
}

func TestBatchNormalize(t *testing.T) {
	var b generic.Batch
	b.Set("/users/u1/", sample{Name: "x"})
	b.Delete("users/u2")

	n, err := b.Normalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1", "users/u2"}, n.Paths())
	assert.Nil(t, n.Updates[1].Value)

	var bad generic.Batch
	bad.Set("", 1)
	_, err = bad.Normalize()
	assert.ErrorIs(t, err, generic.ErrInvalidPath)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestRetryableErrors(t *testing.T) {
	partial := &generic.PartialWriteError{Applied: 1, Total: 3, Cause: generic.ErrStoreUnavailable}
	assert.ErrorIs(t, partial, generic.ErrPartialWrite)
	assert.ErrorIs(t, partial, generic.ErrStoreUnavailable)
	assert.True(t, generic.IsRetryable(partial))

	timeout := generic.FromContext(context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, generic.ErrStoreTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.True(t, generic.IsRetryable(fmt.Errorf("read: %w", timeout)))

	other := errors.New("boom")
	assert.Equal(t, other, generic.FromContext(other))
	assert.False(t, generic.IsRetryable(other))
	assert.False(t, generic.IsRetryable(generic.ValidatePath("a.b")))
}

// =============================================================================
// DATES
// =============================================================================

func TestDates(t *testing.T) {
	zone := time.FixedZone("CST", -6*60*60)

	// 03:30 UTC on the 4th is still the 3rd in UTC-6.
	assert.Equal(t, generic.Date("2025-03-03"), generic.DateOf(time.Date(2025, 3, 4, 3, 30, 0, 0, time.UTC), zone))

	d := generic.Date("2025-02-28")
	assert.Equal(t, generic.Date("2025-03-01"), d.AddDays(1))
	assert.Equal(t, generic.Date("2025-02-27"), d.Prev())
	assert.Equal(t, 2, d.At(2, 0, zone).Hour())
	assert.Len(t, generic.DatesBetween(d, d.AddDays(3)), 4)
	assert.Empty(t, generic.DatesBetween(d, d.Prev()))
	assert.True(t, d.Between(d.Prev(), d))

	_, err := generic.ParseDate("03/03/2025")
	assert.Error(t, err)

	h, m, err := generic.ParseClockTime("19:30")
	require.NoError(t, err)
	assert.Equal(t, []int{19, 30}, []int{h, m})
	_, _, err = generic.ParseClockTime("7pm")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	zone := time.FixedZone("CST", -6*60*60)
	c := &generic.FixedClock{At: time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC), Loc: zone}
	assert.Equal(t, 12, c.Now().Hour())

	c.Set(c.At.Add(time.Hour))
	assert.Equal(t, 13, c.Now().Hour())

	_, err := generic.NewOrgClock("Not/AZone")
	assert.Error(t, err)
}
