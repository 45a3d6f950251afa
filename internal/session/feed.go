package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/seedlink4go/seedlink4/internal/ratelimit"
	"github.com/seedlink4go/seedlink4/internal/record"
)

// feedReadChunk is the size of one raw read from the wire before it is
// handed to the byte-rate limiter and accumulated for frame parsing.
const feedReadChunk = 4096

// runFeed implements §4.6's feed-ingest loop: bytes are accumulated,
// complete legacy or extended frames are decoded and upserted into the
// target ring, and newly-created stations are broadcast to sibling
// sessions. A frame whose preamble is neither "SL" nor "SE" is a protocol
// violation and closes the connection (§7); a frame that decodes but
// fails format decoding is logged and skipped.
func (s *Session) runFeed(ctx context.Context) error {
	var buf bytes.Buffer
	// The accepted byte-rate limiter paces how fast the feed loop drains
	// the socket: each raw read is pushed through a ThrottledWriter before
	// the frame parser sees it, so a slow token bucket creates real
	// backpressure on the producer rather than just metering a buffer.
	var sink io.Writer = &buf
	if s.deps.FeedBytesPerSec > 0 {
		sink = ratelimit.NewThrottledWriter(ctx, &buf, s.deps.FeedBytesPerSec)
	}

	chunk := make([]byte, feedReadChunk)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			if _, werr := sink.Write(chunk[:n]); werr != nil {
				return werr
			}
			if ferr := s.drainFeedBuffer(&buf); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// drainFeedBuffer consumes every complete frame currently in buf, leaving
// a partial trailing frame in place for the next read.
func (s *Session) drainFeedBuffer(buf *bytes.Buffer) error {
	for {
		b := buf.Bytes()
		if len(b) < 2 {
			return nil
		}
		switch {
		case b[0] == 'S' && b[1] == 'L':
			if len(b) < legacyFrameSize {
				return nil
			}
			seq, err := strconv.ParseUint(string(b[2:8]), 16, 32)
			if err != nil {
				return fmt.Errorf("session: invalid legacy feed sequence %q: %w", b[2:8], err)
			}
			payload := make([]byte, 512)
			copy(payload, b[8:legacyFrameSize])
			buf.Next(legacyFrameSize)
			s.ingestLegacy(payload, seq)

		case b[0] == 'S' && b[1] == 'E':
			const extHeaderSize = 2 + 2 + 4 + 8 + 1
			if len(b) < extHeaderSize {
				return nil
			}
			format := string(b[2:4])
			payloadLen := int(binary.LittleEndian.Uint32(b[4:8]))
			seq := binary.LittleEndian.Uint64(b[8:16])
			stationLen := int(b[16])
			total := extHeaderSize + stationLen + payloadLen
			if len(b) < total {
				return nil
			}
			station := string(b[extHeaderSize : extHeaderSize+stationLen])
			payload := make([]byte, payloadLen)
			copy(payload, b[extHeaderSize+stationLen:total])
			buf.Next(total)
			s.ingestExtended(format, station, payload, seq)

		default:
			return fmt.Errorf("session: unrecognized feed preamble %q", b[:2])
		}
	}
}

func (s *Session) ingestLegacy(payload []byte, seq24 uint64) {
	rec, _, err := s.deps.Formats.Decode("2D", "", payload)
	if err != nil {
		s.logger().Warn("feed: dropping undecodable legacy frame", "error", err)
		return
	}
	s.ingest(rec, seq24, true)
}

func (s *Session) ingestExtended(format, station string, payload []byte, seq uint64) {
	rec, _, err := s.deps.Formats.Decode(format, station, payload)
	if err != nil {
		s.logger().Warn("feed: dropping undecodable extended frame", "error", err, "station", station, "format", format)
		return
	}
	if rec.Station == "" {
		rec.Station = station
	}
	s.ingest(rec, seq, false)
}

// ingest appends rec to its station's ring, auto-creating it with the
// station's configured (or default) sizing on first sight, and broadcasts
// newly-created stations to sibling sessions holding a standing wildcard.
// seq is the sequence the feed frame itself carried (legacy 24-bit or
// extended 64-bit); it is passed through to Ring.Put/PutLegacy24 so the
// ring's baseseq-rejection and catastrophic-gap-reset handling (§4.3) sees
// the producer's real sequence instead of always assigning its own next
// one.
func (s *Session) ingest(rec *record.Record, seq uint64, legacy24bit bool) {
	r, existed := s.deps.Store.Ring(rec.Station)
	if !existed {
		nblocks, blocksize, ordered := s.deps.ringDefaults(rec.Station)
		var err error
		r, err = s.deps.Store.CreateRing(rec.Station, nblocks, blocksize, ordered)
		if err != nil {
			s.logger().Error("feed: creating ring", "station", rec.Station, "error", err)
			return
		}
	}
	var err error
	if legacy24bit {
		_, err = r.PutLegacy24(rec, seq)
	} else {
		_, err = r.Put(rec, seq)
	}
	if err != nil {
		s.logger().Warn("feed: dropping record", "station", rec.Station, "sequence", seq, "error", err)
		return
	}
	if !existed {
		s.hub.BroadcastStation(rec.Station)
	}
}
