package selector

import (
	"testing"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
)

func mustRecord(t *testing.T, loc, channel, format string) *record.Record {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := record.New("NET.STA", loc, channel, format, start, start, []byte("x"))
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}
	return rec
}

func TestCompileV3(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		loc     string
		channel string
		format  string
		want    bool
	}{
		{"channel only matches any location", "BHZ", "00", "BHZ", "2D", true},
		{"channel only wrong channel", "BHZ", "00", "BHN", "2D", false},
		{"location+channel exact", "00BHZ", "00", "BHZ", "2D", true},
		{"location+channel wrong location", "00BHZ", "01", "BHZ", "2D", false},
		{"dash means blank location", "--BHZ", "", "BHZ", "2D", true},
		{"wildcard channel char", "00BH?", "00", "BHZ", "2D", true},
		{"wildcard channel char mismatch length", "00BH?", "00", "BHZZ", "2D", false},
		{"type suffix matches subtype", "BHZ.D", "00", "BHZ", "2D", true},
		{"type suffix rejects mismatch", "BHZ.E", "00", "BHZ", "2D", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := Compile(tc.pattern, false)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tc.pattern, err)
			}
			rec := mustRecord(t, tc.loc, tc.channel, tc.format)
			if got := sel.Match(rec); got != tc.want {
				t.Errorf("Match() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompileV3Invalid(t *testing.T) {
	for _, pattern := range []string{"", "BH", "TOOLONGPATTERN", "BHZ.DD"} {
		if _, err := Compile(pattern, false); err == nil {
			t.Errorf("Compile(%q) expected error, got nil", pattern)
		}
	}
}

func TestCompileV4(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		loc     string
		channel string
		format  string
		want    bool
	}{
		{"exact stream id", "00_B_H_Z.2D", "00", "BHZ", "2D", true},
		{"wildcard subsource", "00_B_H_?.2D", "00", "BHZ", "2D", true},
		{"star matches whole band", "*_B_H_Z.2D", "00", "BHZ", "2D", true},
		{"no format suffix matches any format", "00_B_H_Z", "00", "BHZ", "3D", true},
		{"format mismatch", "00_B_H_Z.2D", "00", "BHZ", "3D", false},
		{"format wildcard", "00_B_H_Z.?D", "00", "BHZ", "3D", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := Compile(tc.pattern, true)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tc.pattern, err)
			}
			rec := mustRecord(t, tc.loc, tc.channel, tc.format)
			if got := sel.Match(rec); got != tc.want {
				t.Errorf("Match() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchAllNegation(t *testing.T) {
	rec := mustRecord(t, "00", "BHZ", "2D")

	positive, err := Compile("BHZ", false)
	if err != nil {
		t.Fatal(err)
	}
	negative, err := Compile("!BHZ.D", false)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Compile("BHN", false)
	if err != nil {
		t.Fatal(err)
	}

	if MatchAll([]*Selector{positive, negative}, rec) {
		t.Error("expected negative selector to veto an otherwise-matching positive")
	}
	if !MatchAll(nil, rec) {
		t.Error("expected no selectors to default-allow")
	}
	if MatchAll([]*Selector{other}, rec) {
		t.Error("expected non-matching positive selector to reject")
	}
	if !negative.Negative() {
		t.Error("expected Negative() to report true for '!' prefixed pattern")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"AB*", "ABCDEF", true},
		{"AB*", "XYABC", false},
		{"A?C", "ABC", true},
		{"A?C", "ABBC", false},
		{"*_B_*", "00_B_H_Z", true},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
