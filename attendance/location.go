package attendance

import (
	"strings"

	"github.com/warp/attendance-engine/generic"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLocation makes free-text location names comparable:
// NFC-normalized, case-folded, trimmed, inner whitespace collapsed.
func NormalizeLocation(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s) // a Caser is stateful, so one per call
	return strings.Join(strings.Fields(s), " ")
}

// SameLocation compares two location names after normalization.
func SameLocation(a, b string) bool {
	return NormalizeLocation(a) == NormalizeLocation(b)
}

// LocationKey turns a location name into a store path segment.
// "  Aurora Norte " and "aurora  norte" share the key "aurora-norte".
func LocationKey(s string) string {
	n := NormalizeLocation(s)
	if n == "" {
		return ""
	}
	return generic.SafeKey(strings.ReplaceAll(n, " ", "-"))
}
