package ring

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// slotHeaderMin is the fixed-size portion of an encoded slot, excluding the
// variable-length station/location/channel/format strings and payload.
const slotHeaderMin = 1 + 8 + 1 + 1 + 1 + 1 + 1 + 8 + 8 + 4

// encodeSlot serializes rec into buf, which must be exactly blocksize long.
// buf[0] is 1 for an occupied slot; the remainder of buf past the encoded
// record is left zeroed.
func encodeSlot(buf []byte, rec *record.Record) error {
	for i := range buf {
		buf[i] = 0
	}
	need := slotHeaderMin + len(rec.Station) + len(rec.Location) + len(rec.Channel) + len(rec.Format) + len(rec.Payload)
	if need > len(buf) {
		return fmt.Errorf("ring: record for %s needs %d bytes, slot is %d", rec.Station, need, len(buf))
	}
	if len(rec.Station) > 255 || len(rec.Location) > 255 || len(rec.Channel) > 255 || len(rec.Format) > 255 {
		return fmt.Errorf("ring: record for %s has an oversized identity field", rec.Station)
	}

	pos := 0
	buf[pos] = 1
	pos++
	binary.BigEndian.PutUint64(buf[pos:], rec.Sequence)
	pos += 8

	pos = putString(buf, pos, rec.Station)
	pos = putString(buf, pos, rec.Location)
	pos = putString(buf, pos, rec.Channel)
	pos = putString(buf, pos, rec.Format)

	buf[pos] = rec.Type
	pos++

	binary.BigEndian.PutUint64(buf[pos:], uint64(rec.StartTime.UnixNano()))
	pos += 8
	binary.BigEndian.PutUint64(buf[pos:], uint64(rec.EndTime.UnixNano()))
	pos += 8

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(rec.Payload)))
	pos += 4
	copy(buf[pos:], rec.Payload)
	return nil
}

func putString(buf []byte, pos int, s string) int {
	buf[pos] = byte(len(s))
	pos++
	copy(buf[pos:], s)
	return pos + len(s)
}

func getString(buf []byte, pos int) (string, int, error) {
	if pos >= len(buf) {
		return "", 0, fmt.Errorf("ring: truncated slot while reading string length")
	}
	n := int(buf[pos])
	pos++
	if pos+n > len(buf) {
		return "", 0, fmt.Errorf("ring: truncated slot while reading %d-byte string", n)
	}
	return string(buf[pos : pos+n]), pos + n, nil
}

// decodeSlot deserializes a slot. occupied is false (and rec nil) when the
// slot's first byte is zero, per the blank-slot convention.
func decodeSlot(buf []byte) (rec *record.Record, occupied bool, err error) {
	if len(buf) == 0 || buf[0] == 0 {
		return nil, false, nil
	}
	if len(buf) < slotHeaderMin {
		return nil, true, fmt.Errorf("ring: slot too short to hold a header")
	}

	pos := 1
	seq := binary.BigEndian.Uint64(buf[pos:])
	pos += 8

	var station, location, channel, format string
	if station, pos, err = getString(buf, pos); err != nil {
		return nil, true, err
	}
	if location, pos, err = getString(buf, pos); err != nil {
		return nil, true, err
	}
	if channel, pos, err = getString(buf, pos); err != nil {
		return nil, true, err
	}
	if format, pos, err = getString(buf, pos); err != nil {
		return nil, true, err
	}

	if pos >= len(buf) {
		return nil, true, fmt.Errorf("ring: truncated slot before type byte")
	}
	typ := buf[pos]
	pos++

	if pos+20 > len(buf) {
		return nil, true, fmt.Errorf("ring: truncated slot before time/length fields")
	}
	start := int64(binary.BigEndian.Uint64(buf[pos:]))
	pos += 8
	end := int64(binary.BigEndian.Uint64(buf[pos:]))
	pos += 8
	payloadLen := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4

	if pos+payloadLen > len(buf) {
		return nil, true, fmt.Errorf("ring: truncated slot payload")
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[pos:pos+payloadLen])

	r, err := record.New(station, location, channel, format, time.Unix(0, start).UTC(), time.Unix(0, end).UTC(), payload)
	if err != nil {
		return nil, true, fmt.Errorf("ring: decoding slot: %w", err)
	}
	r.Type = typ
	r.Sequence = seq
	return r, true, nil
}
