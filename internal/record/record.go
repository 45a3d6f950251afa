// Package record defines the immutable unit of data that flows from a
// Feed connection through a Ring and out to subscribing Cursors: a single
// framed Mini-SEED-derived payload with station/stream identity, a time
// window and a ring-assigned sequence number.
package record

import (
	"errors"
	"fmt"
	"time"
)

// UnsetSequence marks a Record that has not yet been assigned a sequence
// number by its owning Ring, and is also used by callers (Cursor.SetSequence)
// to mean "no explicit starting sequence requested".
const UnsetSequence = ^uint64(0)

// ErrInvalidWindow is returned by New when endtime precedes starttime.
var ErrInvalidWindow = errors.New("record: endtime precedes starttime")

// Record is an immutable framed payload unit. Once Sequence has been set
// by a Ring it must never change; Record values are otherwise never
// mutated after construction.
type Record struct {
	Station   string // "NET.STA"
	Location  string // up to 2 chars; "" for a blank location
	Channel   string // 3 chars: band/source/subsource
	Format    string // 1-2 char format code, e.g. "2D", "3D", "2L"
	Type      byte   // optional v4 subtype; 0 means "derive from Format[1]"
	StartTime time.Time
	EndTime   time.Time
	Sequence  uint64 // UnsetSequence until appended to a Ring
	Payload   []byte
}

// New constructs a Record with an unset sequence number, validating the
// time window invariant (endtime >= starttime).
func New(station, location, channel, format string, start, end time.Time, payload []byte) (*Record, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s-%s on %s", ErrInvalidWindow, start, end, station)
	}
	return &Record{
		Station:   station,
		Location:  location,
		Channel:   channel,
		Format:    format,
		StartTime: start,
		EndTime:   end,
		Sequence:  UnsetSequence,
		Payload:   payload,
	}, nil
}

// Subtype returns the record's subtype character: Type if explicitly set
// (MS v3 structured metadata, §4.1), otherwise the second character of
// Format (the MS v2 convention derived from blockette presence).
func (r *Record) Subtype() byte {
	if r.Type != 0 {
		return r.Type
	}
	if len(r.Format) == 2 {
		return r.Format[1]
	}
	return 0
}

// StreamID returns the canonical underscore-delimited stream identifier
// "LOC_B_S_C" (location, band, source, subsource) used internally to key
// the Ring's stream index and to match selectors. Channel codes shorter
// than 3 characters are right-padded with '_'.
func (r *Record) StreamID() string {
	return StreamID(r.Location, r.Channel)
}

// StreamID builds the canonical "LOC_B_S_C" form from a location and a
// 3-character SEED channel code (band, source, subsource).
func StreamID(location, channel string) string {
	ch := channel
	for len(ch) < 3 {
		ch += "_"
	}
	return fmt.Sprintf("%s_%c_%c_%c", location, ch[0], ch[1], ch[2])
}

// HexSequence24 formats the low 24 bits of the sequence as six uppercase
// hex digits, the legacy v3 wire representation used in the "SL" framing.
func HexSequence24(seq uint64) string {
	return fmt.Sprintf("%06X", seq&0xFFFFFF)
}
