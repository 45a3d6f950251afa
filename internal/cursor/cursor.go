// Package cursor implements §4.5: a subscription over a Ring with a
// sequence position, optional time window, selector/format filtering, and
// streaming or dialup termination semantics.
package cursor

import (
	"sync"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
	"github.com/seedlink4go/seedlink4/internal/ring"
	"github.com/seedlink4go/seedlink4/internal/selector"
)

// Cursor is an ephemeral per-subscription iterator attached to exactly one
// Ring (§3). It implements ring.CursorHandle so the ring can notify it
// directly; DataAvail only ever records that something changed and pings
// a wake channel — it never calls back into the ring, since Ring.Put holds
// its own lock for the duration of notification (§9's cyclic-ownership
// note: the cursor holds a handle to the ring, not the reverse).
type Cursor struct {
	ring *ring.Ring
	subs uint64

	mu          sync.Mutex
	seq         uint64
	pendingTail bool // seq is UNSET until the first notification resolves it
	startTime   *time.Time
	endTime     *time.Time
	selectors   []*selector.Selector
	formats     map[string]bool
	dialup      bool
	hasData     bool
	eod         bool

	wake chan struct{}
}

// New creates a Cursor over r and registers it for notification.
func New(r *ring.Ring) *Cursor {
	c := &Cursor{
		ring:    r,
		seq:     record.UnsetSequence,
		formats: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
	c.subs = r.Subscribe(c)
	return c
}

// Wake returns a channel that receives a value (non-blockingly) whenever
// the ring may have new data for this cursor.
func (c *Cursor) Wake() <-chan struct{} { return c.wake }

// DataAvail implements ring.CursorHandle. It resolves a pending UNSET start
// position to the just-appended sequence and pings Wake.
func (c *Cursor) DataAvail(seq uint64) {
	c.mu.Lock()
	if c.pendingTail {
		c.seq = seq
		c.pendingTail = false
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetSequence normalizes a client-requested starting sequence per §4.5.
// v4 selects clamp-to-endseq semantics; otherwise the legacy v3 24-bit
// alignment is used. record.UnsetSequence defers resolution to the first
// DataAvail notification ("start at whatever endseq is then").
func (c *Cursor) SetSequence(seq uint64, v4 bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq == record.UnsetSequence {
		c.pendingTail = true
		c.seq = record.UnsetSequence
		return
	}

	end := c.ring.EndSeq()
	if v4 {
		if seq > end {
			seq = end
		}
		c.seq = seq
		return
	}

	const mask24 = uint64(0x1000000)
	highBits := end &^ (mask24 - 1)
	candidate := highBits | (seq & (mask24 - 1))
	if candidate > end {
		candidate -= mask24
	}
	c.seq = candidate
}

// SetTimeWindow restricts delivery to records overlapping [start, end].
// Either bound may be the zero time.Time to mean "unbounded".
func (c *Cursor) SetTimeWindow(start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !start.IsZero() {
		c.startTime = &start
	}
	if !end.IsZero() {
		c.endTime = &end
	}
}

// AddSelector appends sel to the cursor's selector list.
func (c *Cursor) AddSelector(sel *selector.Selector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectors = append(c.selectors, sel)
}

// Accept adds a format code to the accepted-formats set. The empty set
// (the default) accepts every format; some sessions seed this to {"2D"}
// for legacy v3 wire framing, which only ever carries Mini-SEED v2 data.
func (c *Cursor) Accept(format string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.formats[format] = true
}

// SetDialup marks the cursor as a one-shot dialup subscription: Next
// reports EOD once the ring is exhausted, provided at least one record was
// already delivered.
func (c *Cursor) SetDialup(dialup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialup = dialup
}

// EOD reports whether the cursor has reached its terminal state.
func (c *Cursor) EOD() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eod
}

// CurrentSequence returns the cursor's next-to-deliver sequence, used by
// INFO CONNECTIONS to report a client's replay position. It reports
// record.UnsetSequence while the start position is still pending
// resolution (§4.5's "start at whatever endseq is then" case).
func (c *Cursor) CurrentSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close unregisters the cursor from its ring. Safe to call more than once.
func (c *Cursor) Close() {
	c.ring.Unsubscribe(c.subs)
}

// Next implements §4.5's iteration algorithm: advance past blanks, apply
// the time window and selector/format filters, and return the next
// matching record, or (nil, false) when none is currently available. A
// dialup cursor transitions to EOD and unregisters once the ring is
// exhausted after having delivered at least one record; a cursor whose
// end-time has been passed also transitions to EOD immediately.
func (c *Cursor) Next() (*record.Record, bool) {
	for {
		c.mu.Lock()
		if c.eod {
			c.mu.Unlock()
			return nil, false
		}
		seq := c.seq
		if seq == record.UnsetSequence {
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()

		rec, ok, err := c.ring.Get(seq)
		if err != nil || !ok {
			c.mu.Lock()
			dialup, hasData := c.dialup, c.hasData
			c.mu.Unlock()
			if dialup && hasData {
				c.mu.Lock()
				c.eod = true
				c.mu.Unlock()
				c.Close()
			}
			return nil, false
		}

		c.mu.Lock()
		c.seq = rec.Sequence + 1

		if c.startTime != nil && rec.EndTime.Before(*c.startTime) {
			c.mu.Unlock()
			continue
		}
		if c.endTime != nil && rec.StartTime.After(*c.endTime) {
			c.eod = true
			c.mu.Unlock()
			c.Close()
			return nil, false
		}
		if !c.matchesLocked(rec) {
			c.mu.Unlock()
			continue
		}
		c.hasData = true
		c.mu.Unlock()
		return rec, true
	}
}

// matchesLocked applies the selector list and format filter. Callers must
// hold c.mu.
func (c *Cursor) matchesLocked(rec *record.Record) bool {
	if len(c.formats) > 0 && !c.formats[rec.Format] {
		return false
	}
	return selector.MatchAll(c.selectors, rec)
}
