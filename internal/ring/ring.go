// Package ring implements §4.3: a persistent, memory-mapped, sequence-
// addressed circular log of Records for one station, with crash recovery
// and live cursor notification.
package ring

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// CursorHandle is the notification sink a Ring calls on every successful
// append. internal/cursor.Cursor implements this; Ring never imports that
// package, avoiding the cyclic ownership spec.md §9 flags between Cursor
// and Ring — the ring holds cursors by an opaque generational ID rather
// than a back-pointer, and the cursor holds a *Ring handle of its own.
type CursorHandle interface {
	DataAvail(seq uint64)
}

// Evicted describes a record whose slot was overwritten by an append; used
// to hand off to an optional cold-storage archiver.
type Evicted struct {
	Station  string
	StreamID string
	Sequence uint64
	Payload  []byte
}

// Ring is a persistent circular log for one station's records.
//
// spec.md's concurrency model assumes a single-threaded reactor where no
// locking is required; this repository instead follows the teacher's
// goroutine-per-connection style, so Ring guards its mutable state with mu
// to stay safe when one Feed goroutine appends while many Client goroutines
// read and subscribe concurrently.
type Ring struct {
	name      string
	dir       string
	nblocks   uint64
	blocksize uint64
	ordered   bool
	logger    *slog.Logger

	mu     sync.Mutex
	mapped *mappedFile

	shift    uint64
	baseseq  uint64
	startseq uint64
	endseq   uint64

	streams     map[string]*Stream
	streamOrder []string

	cursorsMu    sync.Mutex
	cursors      map[uint64]CursorHandle
	nextCursorID uint64

	onEvict func(Evicted)
}

// Open implements §4.3's open/recover protocol for the ring directory dir.
// defaultNBlocks/defaultBlockSize are only used when creating a brand new
// ring (case 3); an existing ring keeps whatever capacity its metadata or
// recovery scan determines.
func Open(dir, name string, defaultNBlocks, defaultBlockSize uint64, ordered bool, logger *slog.Logger) (*Ring, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ring: creating directory for %s: %w", name, err)
	}

	r := &Ring{
		name:     name,
		dir:      dir,
		ordered:  ordered,
		logger:   logger.With("ring", name),
		startseq: record.UnsetSequence,
		streams:  make(map[string]*Stream),
		cursors:  make(map[uint64]CursorHandle),
	}

	metaPath := filepath.Join(dir, metaFileName)
	backupPath := filepath.Join(dir, metaBackupName)
	dataPath := filepath.Join(dir, dataFileName)

	_, metaErr := os.Stat(metaPath)
	_, backupErr := os.Stat(backupPath)

	switch {
	case metaErr == nil:
		// Case 1: clean shutdown. ring.json is authoritative.
		m, err := readMeta(metaPath)
		if err != nil {
			return nil, err
		}
		r.applyMeta(m)
		if err := os.Rename(metaPath, backupPath); err != nil {
			return nil, fmt.Errorf("ring: rotating metadata on open: %w", err)
		}
		mapped, err := openMapped(dataPath, int64(r.nblocks*r.blocksize))
		if err != nil {
			return nil, err
		}
		r.mapped = mapped

	case backupErr == nil:
		// Case 2: unclean shutdown. Use the backup only for capacity, then
		// rebuild everything else from a full scan of ring.dat.
		m, err := readMeta(backupPath)
		if err != nil {
			return nil, err
		}
		r.nblocks = m.NBlocks
		r.blocksize = m.BlockSize
		r.ordered = m.Ordered
		mapped, err := openMapped(dataPath, int64(r.nblocks*r.blocksize))
		if err != nil {
			return nil, err
		}
		r.mapped = mapped
		if err := r.recoverFromScan(); err != nil {
			return nil, fmt.Errorf("ring: recovering %s from scan: %w", name, err)
		}
		logger.Warn("recovered ring from scan after unclean shutdown", "ring", name,
			"startseq", r.startseq, "endseq", r.endseq)

	default:
		// Case 3: fresh ring.
		r.nblocks = defaultNBlocks
		r.blocksize = defaultBlockSize
		mapped, err := openMapped(dataPath, int64(r.nblocks*r.blocksize))
		if err != nil {
			return nil, err
		}
		r.mapped = mapped
	}

	if err := r.save(); err != nil {
		return nil, err
	}
	return r, nil
}

// recoverFromScan rebuilds baseseq/shift/startseq/endseq and the stream
// index entirely from the occupied slots of ring.dat, per §4.3 case 2. It
// assumes no catastrophic-gap reset happened since the last clean save
// (that branch starts from a fully blanked ring, which a scan would detect
// as "everything blank" and reconstruct correctly as empty anyway).
func (r *Ring) recoverFromScan() error {
	type occupant struct {
		slot int
		rec  *record.Record
	}
	var occupants []occupant
	var maxSeq uint64
	haveAny := false

	for i := uint64(0); i < r.nblocks; i++ {
		buf := r.slotBytes(i)
		rec, occupied, err := decodeSlot(buf)
		if err != nil {
			return fmt.Errorf("corrupt slot %d: %w", i, err)
		}
		if !occupied {
			continue
		}
		occupants = append(occupants, occupant{int(i), rec})
		if !haveAny || rec.Sequence > maxSeq {
			maxSeq = rec.Sequence
			haveAny = true
		}
	}

	if !haveAny {
		r.shift = 0
		r.baseseq = 0
		r.startseq = record.UnsetSequence
		r.endseq = 0
		r.streams = make(map[string]*Stream)
		r.streamOrder = nil
		return nil
	}

	r.endseq = maxSeq + 1
	if r.endseq > r.nblocks {
		r.baseseq = r.endseq - r.nblocks
	} else {
		r.baseseq = 0
	}

	// shift is derived from the consistency relation seq = baseseq +
	// ((slot - shift) mod nblocks), using any occupied slot.
	ref := occupants[0]
	offset := (ref.rec.Sequence - r.baseseq) % r.nblocks
	r.shift = (uint64(ref.slot) + r.nblocks - offset%r.nblocks) % r.nblocks

	minSeq := maxSeq
	r.streams = make(map[string]*Stream)
	r.streamOrder = nil
	for _, o := range occupants {
		if o.rec.Sequence < minSeq {
			minSeq = o.rec.Sequence
		}
		r.indexAppend(o.rec)
	}
	r.startseq = minSeq
	return nil
}

func (r *Ring) slotBytes(slot uint64) []byte {
	start := slot * r.blocksize
	return r.mapped.data[start : start+r.blocksize]
}

func (r *Ring) slotForSeq(seq uint64) uint64 {
	return (seq - r.baseseq + r.shift) % r.nblocks
}

// indexAppend folds rec into the stream index, creating the Stream entry on
// first sight of its stream-id.
func (r *Ring) indexAppend(rec *record.Record) {
	id := rec.StreamID()
	s, ok := r.streams[id]
	if !ok {
		s = &Stream{StreamID: id}
		r.streams[id] = s
		r.streamOrder = append(r.streamOrder, id)
	}
	s.observe(rec.Location, rec.Channel, rec.Format, rec.Subtype(), rec.StartTime, rec.EndTime, r.ordered)
}

// Put implements §4.3's append algorithm, assigning seq verbatim (or the
// ring's own next sequence when seq is record.UnsetSequence).
func (r *Ring) Put(rec *record.Record, seq uint64) (bool, error) {
	return r.put(rec, seq, false)
}

// PutLegacy24 implements §4.3's append algorithm for a feed frame that only
// carries the low 24 bits of its sequence (the v3 "SL" wire frame): seq24
// is realigned against the ring's current high bits before the normal
// baseseq/gap-reset handling runs, so a legacy feed's wrapping 24-bit
// counter tracks the ring's real 64-bit sequence space instead of being
// truncated into it.
func (r *Ring) PutLegacy24(rec *record.Record, seq24 uint64) (bool, error) {
	return r.put(rec, seq24, true)
}

func (r *Ring) put(rec *record.Record, seq uint64, legacy24bit bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq == record.UnsetSequence {
		seq = r.endseq
	} else if legacy24bit {
		seq = (r.endseq &^ 0xffffff) | (seq & 0xffffff)
	}
	if seq < r.baseseq {
		return false, fmt.Errorf("ring: sequence %d precedes baseseq %d", seq, r.baseseq)
	}

	if seq >= r.baseseq+2*r.nblocks {
		// Catastrophic gap: blank everything and re-anchor.
		for i := uint64(0); i < r.nblocks; i++ {
			buf := r.slotBytes(i)
			for j := range buf {
				buf[j] = 0
			}
		}
		r.shift = r.nblocks - 1
		r.baseseq = seq - r.nblocks + 1
		r.streams = make(map[string]*Stream)
		r.streamOrder = nil
		r.logger.Warn("catastrophic sequence gap, ring reset", "new_baseseq", r.baseseq, "incoming_seq", seq)
	} else {
		for seq >= r.baseseq+r.nblocks {
			buf := r.slotBytes(r.shift)
			evicted, occupied, err := decodeSlot(buf)
			if err != nil {
				return false, fmt.Errorf("ring: eviction scan: %w", err)
			}
			if occupied {
				if evicted.Sequence != r.baseseq {
					return false, fmt.Errorf("ring: invariant violation: slot %d held sequence %d, expected baseseq %d", r.shift, evicted.Sequence, r.baseseq)
				}
				for j := range buf {
					buf[j] = 0
				}
				if s, ok := r.streams[evicted.StreamID()]; ok {
					s.advanceStart(evicted.EndTime)
				}
				if r.onEvict != nil {
					r.onEvict(Evicted{Station: r.name, StreamID: evicted.StreamID(), Sequence: evicted.Sequence, Payload: evicted.Payload})
				}
			}
			r.shift = (r.shift + 1) % r.nblocks
			r.baseseq++
			if r.startseq < r.baseseq || r.startseq == record.UnsetSequence {
				r.startseq = r.baseseq
			}
		}
	}

	slot := r.slotForSeq(seq)
	rec.Sequence = seq
	if err := encodeSlot(r.slotBytes(slot), rec); err != nil {
		return false, err
	}

	r.indexAppend(rec)

	if r.startseq == record.UnsetSequence || seq < r.startseq {
		r.startseq = seq
	}
	if seq+1 > r.endseq {
		r.endseq = seq + 1
	}

	r.notify(seq)

	if err := r.save(); err != nil {
		return false, err
	}
	return true, nil
}

// notify calls DataAvail on every registered cursor, tolerant of a cursor
// unregistering itself from within the callback (§5 "capture-next-then-call").
func (r *Ring) notify(seq uint64) {
	r.cursorsMu.Lock()
	ids := make([]uint64, 0, len(r.cursors))
	for id := range r.cursors {
		ids = append(ids, id)
	}
	r.cursorsMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r.cursorsMu.Lock()
		h, ok := r.cursors[id]
		r.cursorsMu.Unlock()
		if !ok {
			continue
		}
		h.DataAvail(seq)
	}
}

// Get implements §4.3's read operation: seq is clamped into [startseq,
// endseq), blanks are skipped forward, and (nil, false) means end of ring.
func (r *Ring) Get(seq uint64) (*record.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startseq == record.UnsetSequence || r.endseq == r.startseq {
		return nil, false, nil
	}
	if seq < r.startseq {
		seq = r.startseq
	}
	for seq < r.endseq {
		buf := r.slotBytes(r.slotForSeq(seq))
		rec, occupied, err := decodeSlot(buf)
		if err != nil {
			return nil, false, fmt.Errorf("ring: decoding slot for sequence %d: %w", seq, err)
		}
		if occupied {
			return rec, true, nil
		}
		seq++
	}
	return nil, false, nil
}

// Ensure implements §4.3's destructive capacity change: if either parameter
// differs from the ring's current values, all on-disk state is destroyed
// and a fresh empty ring is created in its place.
func (r *Ring) Ensure(nblocks, blocksize uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nblocks == r.nblocks && blocksize == r.blocksize {
		return nil
	}
	if r.mapped != nil {
		if err := r.mapped.Close(); err != nil {
			return fmt.Errorf("ring: closing old mapping: %w", err)
		}
	}
	r.nblocks = nblocks
	r.blocksize = blocksize
	r.shift = 0
	r.baseseq = 0
	r.startseq = record.UnsetSequence
	r.endseq = 0
	r.streams = make(map[string]*Stream)
	r.streamOrder = nil
	r.cursorsMu.Lock()
	r.cursors = make(map[uint64]CursorHandle)
	r.cursorsMu.Unlock()

	dataPath := filepath.Join(r.dir, dataFileName)
	mapped, err := openMapped(dataPath, int64(nblocks*blocksize))
	if err != nil {
		return err
	}
	r.mapped = mapped
	return r.save()
}

// Subscribe registers h for notification on every future Put and returns a
// handle for Unsubscribe.
func (r *Ring) Subscribe(h CursorHandle) uint64 {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	id := r.nextCursorID
	r.nextCursorID++
	r.cursors[id] = h
	return id
}

// Unsubscribe removes a previously Subscribed handle. Safe to call from
// within a DataAvail callback.
func (r *Ring) Unsubscribe(id uint64) {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	delete(r.cursors, id)
}

// SetEvictHook installs fn to be called, synchronously within Put, whenever
// an occupied slot is overwritten by eviction. fn must not block.
func (r *Ring) SetEvictHook(fn func(Evicted)) {
	r.onEvict = fn
}

// Name returns the ring's station identity ("NET.STA").
func (r *Ring) Name() string { return r.name }

// NBlocks returns the ring's fixed slot capacity.
func (r *Ring) NBlocks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nblocks
}

// BlockSize returns the ring's fixed slot size in bytes.
func (r *Ring) BlockSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocksize
}

// StartSeq returns the sequence of the oldest present record, or
// record.UnsetSequence if the ring is empty.
func (r *Ring) StartSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startseq
}

// EndSeq returns one past the newest record's sequence.
func (r *Ring) EndSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endseq
}

// Streams returns a snapshot of the stream index in insertion order.
func (r *Ring) Streams() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Stream, 0, len(r.streamOrder))
	for _, id := range r.streamOrder {
		if s, ok := r.streams[id]; ok {
			copyS := *s
			out = append(out, &copyS)
		}
	}
	return out
}

// CheckInvariants re-scans every slot and reports how many violate §3's
// formula (`seq = baseseq + ((slot - shift + nblocks) mod nblocks)`) or lie
// outside [startseq, endseq). It never mutates the ring; used by the
// periodic maintenance sweep to surface drift without touching data.
func (r *Ring) CheckInvariants() (drift int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := uint64(0); i < r.nblocks; i++ {
		rec, occupied, err := decodeSlot(r.slotBytes(i))
		if err != nil {
			return drift, fmt.Errorf("ring: decoding slot %d during sweep: %w", i, err)
		}
		if !occupied {
			continue
		}
		want := r.baseseq + ((i + r.nblocks - r.shift%r.nblocks) % r.nblocks)
		if rec.Sequence != want || rec.Sequence < r.startseq || rec.Sequence >= r.endseq {
			drift++
		}
	}
	return drift, nil
}

// Close unmaps and closes the ring's data file after a final metadata save.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.save(); err != nil {
		return err
	}
	return r.mapped.Close()
}
