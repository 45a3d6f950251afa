package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// mseed3FixedHeaderSize is the size of the MS v3 fixed header preceding
// the variable-length source identifier, extra headers and payload.
const mseed3FixedHeaderSize = 40

// decodeMSEED3 parses a Mini-SEED v3 record. Layout (little-endian, per
// the FDSN Mini-SEED v3 specification):
//
//	0:2   record indicator "MS"
//	2:3   format version
//	3:4   flags
//	4:8   nanosecond
//	8:10  year
//	10:12 day of year
//	12:13 hour
//	13:14 minute
//	14:15 second
//	15:16 data encoding
//	16:24 sample rate/period (float64)
//	24:28 number of samples
//	28:32 CRC
//	32:33 publication version
//	33:34 source identifier length
//	34:36 extra headers length
//	36:40 data payload length
//	40:...source identifier, extra headers (JSON), payload
//
// The exact derivation of a record's §4.1 subtype from MS v3 extra
// headers is left unspecified by the authoritative format (spec.md's Open
// Questions call this out); this decoder uses the presence of well-known
// extra-header keys as a heuristic.
func decodeMSEED3(station string, buf []byte) (*record.Record, int, error) {
	if len(buf) < mseed3FixedHeaderSize {
		return nil, 0, ErrNeedMore
	}
	if string(buf[0:2]) != "MS" {
		return nil, 0, fmt.Errorf("mseed3: bad record indicator %q", buf[0:2])
	}

	nanosecond := binary.LittleEndian.Uint32(buf[4:8])
	year := binary.LittleEndian.Uint16(buf[8:10])
	day := binary.LittleEndian.Uint16(buf[10:12])
	hour := buf[12]
	minute := buf[13]
	second := buf[14]
	sampleRatePeriod := binary.LittleEndian.Uint64(buf[16:24])
	numSamples := binary.LittleEndian.Uint32(buf[24:28])
	sidLen := int(buf[33])
	extraLen := int(binary.LittleEndian.Uint16(buf[34:36]))
	payloadLen := int(binary.LittleEndian.Uint32(buf[36:40]))

	total := mseed3FixedHeaderSize + sidLen + extraLen + payloadLen
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}

	sid := string(buf[mseed3FixedHeaderSize : mseed3FixedHeaderSize+sidLen])
	extra := buf[mseed3FixedHeaderSize+sidLen : mseed3FixedHeaderSize+sidLen+extraLen]

	net, sta, loc, channel := parseSourceIdentifier(sid)
	if station != "" {
		sta = ""
		net = ""
	}

	if year == 0 {
		return nil, 0, fmt.Errorf("mseed3: zero year")
	}
	start := time.Date(int(year), time.January, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, int(day)-1).
		Add(time.Duration(hour) * time.Hour).
		Add(time.Duration(minute) * time.Minute).
		Add(time.Duration(second) * time.Second).
		Add(time.Duration(nanosecond))

	sampleRate := sampleRateFromPeriod(sampleRatePeriod)

	var duration time.Duration
	if sampleRate > 0 && numSamples > 0 {
		duration = time.Duration(float64(numSamples-1) / sampleRate * float64(time.Second))
	}
	end := start.Add(duration)

	subtype := classifySubtypeV3(channel, numSamples, extra)

	netSta := sta
	if net != "" {
		netSta = net + "." + sta
	}
	if station != "" {
		netSta = station
	}

	rec, err := record.New(netSta, loc, channel, "3"+string(subtype), start, end, cloneBytes(buf[:total]))
	if err != nil {
		return nil, 0, err
	}
	rec.Type = subtype
	return rec, total, nil
}

// parseSourceIdentifier splits a "FDSN:NET_STA_LOC_BAND_SOURCE_SUBSOURCE"
// style identifier into its components, tolerating a missing "FDSN:"
// scheme prefix or fewer fields than expected.
func parseSourceIdentifier(sid string) (net, sta, loc, channel string) {
	s := sid
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	parts := strings.Split(s, "_")
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	net = get(0)
	sta = get(1)
	loc = get(2)
	band, source, subsource := get(3), get(4), get(5)
	channel = band + source + subsource
	return net, sta, loc, channel
}

// classifySubtypeV3 derives the §4.1 subtype character for a Mini-SEED v3
// record from its channel code (a "LOG" prefix) and extra-headers JSON,
// then its sample count.
func classifySubtypeV3(channel string, numSamples uint32, extra []byte) byte {
	e := string(extra)
	switch {
	case strings.HasPrefix(channel, "LOG"):
		return 'L'
	case strings.Contains(e, `"Timing"`):
		return 'T'
	case strings.Contains(e, `"Calibration"`):
		return 'C'
	case strings.Contains(e, `"Event"`):
		return 'E'
	case numSamples == 0:
		return 'O'
	default:
		return 'D'
	}
}

func sampleRateFromPeriod(bits uint64) float64 {
	f := math.Float64frombits(bits)
	if f == 0 {
		return 0
	}
	if f > 0 {
		return f
	}
	return 1.0 / -f
}
