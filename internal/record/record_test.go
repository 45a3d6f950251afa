package record

import (
	"testing"
	"time"
)

func TestNewRejectsInvertedWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := New("NET.STA", "00", "BHZ", "2D", start, end, nil); err == nil {
		t.Fatal("expected error for endtime before starttime")
	}
}

func TestSubtypePrefersExplicitType(t *testing.T) {
	rec, err := New("NET.STA", "00", "BHZ", "2D", time.Now().UTC(), time.Now().UTC(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Subtype(); got != 'D' {
		t.Errorf("Subtype() = %q, want 'D'", got)
	}
	rec.Type = 'E'
	if got := rec.Subtype(); got != 'E' {
		t.Errorf("Subtype() after explicit Type = %q, want 'E'", got)
	}
}

func TestStreamID(t *testing.T) {
	cases := []struct {
		location, channel, want string
	}{
		{"00", "BHZ", "00_B_H_Z"},
		{"", "BH", "_B_H__"},
	}
	for _, tc := range cases {
		if got := StreamID(tc.location, tc.channel); got != tc.want {
			t.Errorf("StreamID(%q, %q) = %q, want %q", tc.location, tc.channel, got, tc.want)
		}
	}
}

func TestHexSequence24(t *testing.T) {
	cases := []struct {
		seq  uint64
		want string
	}{
		{0, "000000"},
		{1, "000001"},
		{0xFFFFFF, "FFFFFF"},
		{0x1000000, "000000"}, // wraps at 24 bits
	}
	for _, tc := range cases {
		if got := HexSequence24(tc.seq); got != tc.want {
			t.Errorf("HexSequence24(%d) = %q, want %q", tc.seq, got, tc.want)
		}
	}
}
