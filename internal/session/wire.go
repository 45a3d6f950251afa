package session

import (
	"encoding/binary"
	"fmt"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// legacyFrameSize is the wire size of a v3 "SL"+sequence+payload frame:
// 2-byte literal, 6 hex digits, 512-byte Mini-SEED v2 payload.
const legacyFrameSize = 2 + 6 + 512

// appendLegacyFrame frames rec per §6's v3 legacy wire format:
// "SL" + six uppercase hex digits of the low 24 bits of the sequence +
// 512 bytes of MS-v2 payload. Only format "2D" is ever passed a cursor
// configured for legacy delivery, so payload is always exactly 512 bytes.
func appendLegacyFrame(buf []byte, rec *record.Record) []byte {
	buf = append(buf, 'S', 'L')
	buf = append(buf, record.HexSequence24(rec.Sequence)...)
	buf = append(buf, rec.Payload...)
	return buf
}

// appendExtendedFrame frames rec per §6's v4 extended wire format:
// "SE" + 2-char format + 4-byte LE payload length + 8-byte LE sequence +
// 1-byte station-id length + station-id bytes + payload.
func appendExtendedFrame(buf []byte, rec *record.Record) []byte {
	buf = append(buf, 'S', 'E')
	format := rec.Format
	for len(format) < 2 {
		format += " "
	}
	buf = append(buf, format[0], format[1])

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec.Payload)))
	buf = append(buf, lenBuf[:]...)

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], rec.Sequence)
	buf = append(buf, seqBuf[:]...)

	station := rec.Station
	if len(station) > 255 {
		station = station[:255]
	}
	buf = append(buf, byte(len(station)))
	buf = append(buf, station...)
	buf = append(buf, rec.Payload...)
	return buf
}

// infoXMLFrames splits doc across one or more synthetic MS-v2-shaped INFO
// records per §6: each carries a fixed 512-byte payload prefixed on the
// wire with "SLINFO *" (continuation) or "SLINFO  " (terminator, two
// spaces). channel is "INF" for a successful level or "ERR" for an
// unrecognized one (§12).
func infoXMLFrames(doc []byte, channel string) [][]byte {
	const payloadSize = 512
	const headerSize = 8 // "SLINFO *" / "SLINFO  "

	var frames [][]byte
	for offset := 0; offset < len(doc) || len(frames) == 0; offset += payloadSize {
		end := offset + payloadSize
		if end > len(doc) {
			end = len(doc)
		}
		chunk := doc[offset:end]
		last := end >= len(doc)

		payload := make([]byte, payloadSize)
		copy(payload, chunk)
		// A real MS-v2 record carries station/channel identity in its
		// fixed header; the INFO synthetic record's channel field is
		// overloaded to signal success ("INF") or error ("ERR") per §12.
		copy(payload[15:18], padChannel(channel))

		frame := make([]byte, 0, headerSize+payloadSize)
		if last {
			frame = append(frame, "SLINFO  "...)
		} else {
			frame = append(frame, "SLINFO *"...)
		}
		frame = append(frame, payload...)
		frames = append(frames, frame)
	}
	return frames
}

func padChannel(ch string) string {
	for len(ch) < 3 {
		ch += " "
	}
	return ch[:3]
}

// infoJSONFrame builds the v4 INFO wire message per §6: a 16-byte fixed
// header "SEJ" + code-char ("I" success, "E" error) + 4-byte LE JSON
// length + 8 zero bytes, followed by the JSON document itself.
func infoJSONFrame(doc []byte, ok bool) []byte {
	code := byte('I')
	if !ok {
		code = 'E'
	}
	header := make([]byte, 16)
	copy(header[0:3], "SEJ")
	header[3] = code
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(doc)))
	return append(header, doc...)
}

// errorReply formats a protocol error per §7: v4 gets a named code,
// v3 gets a bare "ERROR\r\n".
func errorReply(v4 bool, code, msg string) string {
	if v4 {
		if msg == "" {
			return fmt.Sprintf("ERROR %s\r\n", code)
		}
		return fmt.Sprintf("ERROR %s %s\r\n", code, msg)
	}
	return "ERROR\r\n"
}
