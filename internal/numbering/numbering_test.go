package numbering

import (
	"testing"
	"time"
)

func TestFormat_ZeroPadding(t *testing.T) {
	got := Format(2026, time.January, 1)
	if got != "GCG-2026-010001" {
		t.Fatalf("unexpected code: %q", got)
	}
	if got := Format(2026, time.November, 423); got != "GCG-2026-110423" {
		t.Fatalf("unexpected code: %q", got)
	}
}

func TestParseSuffix_ValidAndInvalid(t *testing.T) {
	cases := []struct {
		code   string
		year   int
		month  time.Month
		suffix int
		ok     bool
	}{
		{"GCG-2026-010001", 2026, time.January, 1, true},
		{"GCG-2026-129999", 2026, time.December, 9999, true},
		{"GCG-2026-010001", 2026, time.February, 0, false}, // wrong month
		{"GCG-2025-010001", 2026, time.January, 0, false},  // wrong year
		{"GCG-2026-010000", 2026, time.January, 0, false},  // zero suffix
		{"GCG-2026-01001", 2026, time.January, 0, false},   // short suffix
		{"ARC-2026-010001", 2026, time.January, 0, false},  // foreign prefix
		{"garbage", 2026, time.January, 0, false},
		{"", 2026, time.January, 0, false},
	}
	for _, c := range cases {
		n, ok := ParseSuffix(c.code, c.year, c.month)
		if ok != c.ok || (ok && n != c.suffix) {
			t.Errorf("ParseSuffix(%q, %d, %v) = (%d, %v), want (%d, %v)",
				c.code, c.year, c.month, n, ok, c.suffix, c.ok)
		}
	}
}

func TestNextSuffix_GapFilling(t *testing.T) {
	cases := []struct {
		taken []int
		want  int
	}{
		{nil, 1},
		{[]int{1}, 2},
		{[]int{1, 2, 3}, 4},
		{[]int{1, 2, 4}, 3},   // reclaim the deleted 3
		{[]int{2, 3}, 1},      // first slot freed
		{[]int{4, 2, 1}, 3},   // unsorted input
		{[]int{1, 1, 2}, 3},   // duplicates tolerated
		{[]int{5, 9, 12}, 1},  // nothing at the front
		{[]int{1, 3, 3, 4}, 2}, // duplicate past the gap
	}
	for _, c := range cases {
		if got := NextSuffix(c.taken); got != c.want {
			t.Errorf("NextSuffix(%v) = %d, want %d", c.taken, got, c.want)
		}
	}
}

func TestNextCode_DiscardsForeignMonths(t *testing.T) {
	codes := []string{
		"GCG-2026-030001",
		"GCG-2026-030002",
		"GCG-2026-020004", // previous month, ignored
		"GCG-2025-030001", // previous year, ignored
		"not-a-code",
	}
	got := NextCode(codes, 2026, time.March)
	if got != "GCG-2026-030003" {
		t.Fatalf("NextCode = %q, want GCG-2026-030003", got)
	}
}

func TestNextCode_EmptyMonthStartsAtOne(t *testing.T) {
	if got := NextCode(nil, 2026, time.July); got != "GCG-2026-070001" {
		t.Fatalf("NextCode = %q", got)
	}
}

func TestMonthBounds(t *testing.T) {
	at := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	start, end := MonthBounds(at)
	if !start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %v", end)
	}

	// December rolls into the next year.
	start, end = MonthBounds(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC))
	if start.Month() != time.December || end.Year() != 2026 || end.Month() != time.January {
		t.Fatalf("year rollover bounds wrong: %v .. %v", start, end)
	}
}
