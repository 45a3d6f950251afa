package ring

import "time"

// Stream is a per-ring index entry summarizing all live records sharing a
// stream-id (§3).
type Stream struct {
	StreamID  string
	Location  string
	Channel   string
	Format    string
	Type      byte
	StartTime time.Time
	EndTime   time.Time
}

// observe folds one record's identity and time window into the stream,
// widening StartTime/EndTime and, for an unordered ring, also allowing
// StartTime to move backward for an out-of-order append.
func (s *Stream) observe(location, channel, format string, typ byte, start, end time.Time, ordered bool) {
	s.Location = location
	s.Channel = channel
	s.Format = format
	s.Type = typ
	if s.StartTime.IsZero() || (!ordered && start.Before(s.StartTime)) {
		s.StartTime = start
	}
	if s.EndTime.IsZero() || end.After(s.EndTime) {
		s.EndTime = end
	}
}

// advanceStart is called when the oldest record carrying this stream-id is
// evicted from the ring; per §4.3 the stream's StartTime advances to the
// overwritten record's EndTime.
func (s *Stream) advanceStart(evictedEnd time.Time) {
	if evictedEnd.After(s.StartTime) {
		s.StartTime = evictedEnd
	}
}
