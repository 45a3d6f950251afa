package format

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// mseed2FixedHeaderSize is the size in bytes of the MS v2 fixed header,
// before any blockettes.
const mseed2FixedHeaderSize = 48

// decodeMSEED2 parses a Mini-SEED v2 fixed header and enough of the
// blockette chain to classify the record's subtype, and returns a Record
// whose Format is "2"+subtype. It never mutates buf.
//
// Layout (big-endian, per the SEED manual):
//
//	0:6   sequence number (ASCII, ignored — the ring assigns its own)
//	6:7   data header/quality indicator
//	7:8   reserved
//	8:13  station (5 chars, space padded)
//	13:15 location (2 chars)
//	15:18 channel (3 chars)
//	18:20 network (2 chars)
//	20:30 BTIME start time
//	30:32 number of samples
//	32:34 sample rate factor
//	34:36 sample rate multiplier
//	36:37 activity flags
//	37:38 I/O and clock flags
//	38:39 data quality flags
//	39:40 number of blockettes that follow
//	40:44 time correction
//	44:46 beginning of data (byte offset)
//	46:48 first blockette (byte offset)
func decodeMSEED2(station string, buf []byte) (*record.Record, int, error) {
	if len(buf) < mseed2FixedHeaderSize {
		return nil, 0, ErrNeedMore
	}

	sta := strings.TrimSpace(string(buf[8:13]))
	loc := normalizeLocation(string(buf[13:15]))
	chan3 := strings.TrimRight(string(buf[15:18]), " ")
	net := strings.TrimSpace(string(buf[18:20]))

	start, err := decodeBTIME(buf[20:30])
	if err != nil {
		return nil, 0, fmt.Errorf("mseed2: %w", err)
	}

	numSamples := binary.BigEndian.Uint16(buf[30:32])
	rateFactor := int16(binary.BigEndian.Uint16(buf[32:34]))
	rateMultiplier := int16(binary.BigEndian.Uint16(buf[34:36]))
	numBlockettes := int(buf[39])
	firstBlocketteOffset := int(binary.BigEndian.Uint16(buf[46:48]))

	sampleRate := sampleRateHz(rateFactor, rateMultiplier)

	blocketteTypes, recLenExp := scanBlockettes(buf, firstBlocketteOffset, numBlockettes)

	reclen := len(buf)
	if recLenExp > 0 && (1<<recLenExp) <= len(buf) {
		reclen = 1 << recLenExp
	}

	var duration time.Duration
	if sampleRate > 0 && numSamples > 0 {
		duration = time.Duration(float64(numSamples-1) / sampleRate * float64(time.Second))
	}
	end := start.Add(duration)

	subtype := classifySubtypeV2(chan3, numSamples, sampleRate, blocketteTypes)

	netSta := sta
	if net != "" {
		netSta = net + "." + sta
	}
	if station != "" {
		netSta = station
	}

	rec, err := record.New(netSta, loc, chan3, "2"+string(subtype), start, end, cloneBytes(buf[:reclen]))
	if err != nil {
		return nil, 0, err
	}
	return rec, reclen, nil
}

// normalizeLocation trims trailing spaces and maps the wire convention of
// '-' meaning "blank location" to an empty string.
func normalizeLocation(raw string) string {
	loc := strings.TrimRight(raw, " ")
	if loc == "--" || loc == "" {
		return ""
	}
	return loc
}

// decodeBTIME parses the 10-byte SEED BTIME structure into a UTC time.Time.
func decodeBTIME(b []byte) (time.Time, error) {
	if len(b) < 10 {
		return time.Time{}, fmt.Errorf("short BTIME")
	}
	year := binary.BigEndian.Uint16(b[0:2])
	day := binary.BigEndian.Uint16(b[2:4])
	hour := b[4]
	minute := b[5]
	second := b[6]
	// b[7] is unused padding.
	tenThousandths := binary.BigEndian.Uint16(b[8:10])

	if year == 0 {
		return time.Time{}, fmt.Errorf("zero year in BTIME")
	}

	base := time.Date(int(year), time.January, 1, 0, 0, 0, 0, time.UTC)
	base = base.AddDate(0, 0, int(day)-1)
	base = base.Add(time.Duration(hour) * time.Hour)
	base = base.Add(time.Duration(minute) * time.Minute)
	base = base.Add(time.Duration(second) * time.Second)
	base = base.Add(time.Duration(tenThousandths) * 100 * time.Microsecond)
	return base, nil
}

// sampleRateHz converts the SEED sample-rate factor/multiplier encoding
// into Hz. Positive factor means samples/sec; negative means the
// reciprocal (sec/sample). Multiplier follows the same sign convention.
func sampleRateHz(factor, multiplier int16) float64 {
	if factor == 0 {
		return 0
	}
	var rate float64
	if factor > 0 {
		rate = float64(factor)
	} else {
		rate = 1.0 / float64(-factor)
	}
	if multiplier > 0 {
		rate *= float64(multiplier)
	} else if multiplier < 0 {
		rate /= float64(-multiplier)
	}
	return rate
}

// scanBlockettes walks the blockette chain starting at offset, returning
// the set of blockette type numbers encountered and, if a Blockette 1000
// (Data Only SEED) is present, its record-length exponent.
func scanBlockettes(buf []byte, offset, count int) (types map[int]bool, lengthExponent int) {
	types = make(map[int]bool, count)
	for i := 0; i < count && offset > 0 && offset+4 <= len(buf); i++ {
		btype := int(binary.BigEndian.Uint16(buf[offset : offset+2]))
		next := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		types[btype] = true
		if btype == 1000 && offset+7 <= len(buf) {
			lengthExponent = int(buf[offset+6])
		}
		if next == 0 || next <= offset {
			break
		}
		offset = next
	}
	return types, lengthExponent
}

// classifySubtypeV2 derives the §4.1 subtype character from blockette
// presence and sample-rate/count conventions. This is a best-effort
// heuristic: spec.md's own Open Questions note that the exact derivation
// varies between the original implementation's overlapping files.
func classifySubtypeV2(channel string, numSamples uint16, sampleRate float64, blockettes map[int]bool) byte {
	switch {
	case strings.HasPrefix(channel, "LOG") || channel == "SOH":
		return 'L'
	case blockettes[500]:
		return 'T'
	case blockettes[300] || blockettes[310] || blockettes[320] || blockettes[395]:
		return 'C'
	case blockettes[200] || blockettes[201]:
		return 'E'
	case numSamples == 0 && sampleRate == 0:
		return 'O'
	default:
		return 'D'
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
