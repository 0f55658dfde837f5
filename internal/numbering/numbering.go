// Package numbering implements the prestation code format and the gap-filling
// sequence arithmetic. Codes look like GCG-2026-010042: the GCG prefix, the
// four-digit allocation year, the two-digit allocation month, and a four-digit
// sequential suffix that restarts at 0001 every month.
//
// The package is deliberately free of persistence concerns: callers scan the
// store for the codes already allocated inside the month, and this package
// turns them into the next suffix. Suffixes freed by deletion are reclaimed:
// allocation always picks the smallest unused positive integer.
package numbering

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Prefix is the fixed leading token of every prestation code.
const Prefix = "GCG"

// MaxSuffix is the largest suffix the four-digit field can carry. Values
// beyond it are out of contract.
const MaxSuffix = 9999

// Scope selects which of the two independent monthly counters a code belongs
// to: intake codes are keyed by creation time, acceptance codes by acceptance
// time.
type Scope string

const (
	ScopeIntake     Scope = "intake"
	ScopeAcceptance Scope = "acceptance"
)

var codeRE = regexp.MustCompile(`^GCG-(\d{4})-(\d{2})(\d{4})$`)

// Format renders a code for the given allocation instant and suffix.
func Format(year int, month time.Month, suffix int) string {
	return fmt.Sprintf("%s-%04d-%02d%04d", Prefix, year, int(month), suffix)
}

// ParseSuffix extracts the sequential suffix from code, provided the code
// matches the fixed pattern and carries the target year and month. Codes from
// other months (or malformed ones) report ok=false and are discarded by the
// caller.
func ParseSuffix(code string, year int, month time.Month) (suffix int, ok bool) {
	m := codeRE.FindStringSubmatch(code)
	if m == nil {
		return 0, false
	}
	var y, mo int
	fmt.Sscanf(m[1], "%d", &y)
	fmt.Sscanf(m[2], "%d", &mo)
	if y != year || mo != int(month) {
		return 0, false
	}
	fmt.Sscanf(m[3], "%d", &suffix)
	if suffix < 1 {
		return 0, false
	}
	return suffix, true
}

// NextSuffix returns the smallest positive integer absent from taken.
// The input need not be sorted or unique.
func NextSuffix(taken []int) int {
	if len(taken) == 0 {
		return 1
	}
	s := make([]int, len(taken))
	copy(s, taken)
	sort.Ints(s)

	candidate := 1
	for _, v := range s {
		if v < candidate {
			continue // duplicates and out-of-contract values below the candidate
		}
		if v == candidate {
			candidate++
			continue
		}
		break // first value strictly greater than the candidate: gap found
	}
	return candidate
}

// NextCode parses every code against the target year/month, discards the
// mismatches, and formats the code for the smallest unused suffix.
func NextCode(codes []string, year int, month time.Month) string {
	taken := make([]int, 0, len(codes))
	for _, c := range codes {
		if n, ok := ParseSuffix(c, year, month); ok {
			taken = append(taken, n)
		}
	}
	return Format(year, month, NextSuffix(taken))
}

// MonthBounds returns the first instant of t's calendar month and the first
// instant of the following month, in t's location. Scans use the half-open
// interval [start, end).
func MonthBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0)
	return start, end
}
