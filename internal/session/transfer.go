package session

import (
	"context"
	"errors"
	"time"
)

// errSessionClosed signals runTransfer's wait loop that the session is
// shutting down; Run's caller treats it like any other connection error.
var errSessionClosed = errors.New("session: closed")

// transferBudget is the ~5 KiB per round-robin pass named in §4.6's
// transfer-scheduling description.
const transferBudget = 5 * 1024

// stationAvailPollInterval bounds how long runTransfer ever blocks without
// rechecking its ready-set, so a session with zero bindings left but a
// standing wildcard still notices new stations promptly even if the hub
// broadcast happens to race the channel read.
const stationAvailPollInterval = 5 * time.Second

// runTransfer implements §4.6's output scheduler: strict round-robin over
// the current binding set, draining about transferBudget bytes per pass
// before flushing to the socket, until every cursor has reached EOD. New
// stations matching a standing wildcard are attached as stationAvail
// events arrive from the feed path.
func (s *Session) runTransfer(ctx context.Context) error {
	for {
		wrote, active, err := s.drainOnce()
		if err != nil {
			return err
		}
		if !active {
			// §6: the termination frame is the bare three bytes "END",
			// with no CRLF, unlike every other command-mode reply.
			return s.writeFrame([]byte("END"))
		}
		if wrote == 0 {
			if err := s.waitForWork(ctx); err != nil {
				return err
			}
		}
	}
}

// drainOnce performs one round-robin pass over the live bindings, framing
// records until transferBudget bytes are reached (the last record framed
// may carry the pass past it), and reports whether any binding remains.
// Strict round-robin means one record per binding per round: a binding
// with a deep backlog only ever gets one record ahead of its siblings
// before yielding, so it cannot starve them within the pass (§5).
func (s *Session) drainOnce() (wrote int, active bool, err error) {
	s.mu.Lock()
	bindings := append([]binding(nil), s.bindings...)
	v4 := s.v4
	s.mu.Unlock()

	if len(bindings) == 0 {
		return 0, false, nil
	}

	var out []byte
	live := bindings
	for len(out) < transferBudget && len(live) > 0 {
		progressed := false
		var next []binding
		for _, b := range live {
			if len(out) >= transferBudget {
				next = append(next, b)
				continue
			}
			rec, ok := b.cursor.Next()
			if ok {
				progressed = true
				if v4 {
					out = appendExtendedFrame(out, rec)
				} else {
					out = appendLegacyFrame(out, rec)
				}
			}
			if !b.cursor.EOD() {
				next = append(next, b)
			}
		}
		live = next
		if !progressed {
			// No binding produced a record this round (every live cursor is
			// caught up but not at EOD): stop rather than spin, and let
			// waitForWork block for the next notification.
			break
		}
	}

	survivors := make([]binding, 0, len(bindings))
	for _, b := range bindings {
		if !b.cursor.EOD() {
			survivors = append(survivors, b)
		}
	}

	s.mu.Lock()
	s.bindings = survivors
	s.mu.Unlock()

	if len(out) > 0 {
		if werr := s.writeFrame(out); werr != nil {
			return 0, false, werr
		}
	}
	return len(out), len(survivors) > 0, nil
}

// waitForWork blocks until a bound cursor signals new data, a sibling
// station-available broadcast may have introduced a match for a standing
// wildcard, or ctx is canceled.
func (s *Session) waitForWork(ctx context.Context) error {
	timer := time.NewTimer(stationAvailPollInterval)
	defer timer.Stop()
	select {
	case <-s.notify:
		return nil
	case name := <-s.stationAvail:
		s.attachMatchingWildcards(name)
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return errSessionClosed
	}
}

// attachMatchingWildcards re-checks every standing wildcard stationRequest
// against a newly-announced station name and attaches it on a match.
func (s *Session) attachMatchingWildcards(name string) {
	s.mu.Lock()
	wildcards := append([]*stationRequest(nil), s.wildcards...)
	s.mu.Unlock()
	for _, req := range wildcards {
		pattern := req.pattern
		if req.network != "" {
			pattern = req.network + "." + req.pattern
		}
		if matchWildcard(pattern, name) {
			if err := s.attachStation(name, req); err != nil {
				s.logger().Warn("denying late wildcard binding", "station", name, "error", err)
			}
		}
	}
}
