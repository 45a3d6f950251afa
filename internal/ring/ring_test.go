package ring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
)

func testRecord(t *testing.T, channel string) *record.Record {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Second)
	rec, err := record.New("XX.STA", "00", channel, "2D", start, end, []byte("payload"))
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}
	return rec
}

// TestS1AppendAndEviction follows spec scenario S1.
func TestS1AppendAndEviction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i := 0; i < 4; i++ {
		if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}
	if r.StartSeq() != 0 || r.EndSeq() != 4 {
		t.Fatalf("after 4 puts: startseq=%d endseq=%d, want 0,4", r.StartSeq(), r.EndSeq())
	}

	if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
		t.Fatalf("Put #5: %v", err)
	}
	if r.StartSeq() != 1 || r.EndSeq() != 5 {
		t.Fatalf("after 5 puts: startseq=%d endseq=%d, want 1,5", r.StartSeq(), r.EndSeq())
	}
	if r.baseseq != 1 || r.shift != 1 {
		t.Fatalf("after 5 puts: baseseq=%d shift=%d, want 1,1", r.baseseq, r.shift)
	}
}

// TestS2Get follows spec scenario S2.
func TestS2Get(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i := 0; i < 5; i++ {
		if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	if _, ok, _ := r.Get(0); ok {
		t.Error("Get(0) expected no record after eviction")
	}
	for seq := uint64(1); seq <= 4; seq++ {
		rec, ok, err := r.Get(seq)
		if err != nil {
			t.Fatalf("Get(%d): %v", seq, err)
		}
		if !ok {
			t.Fatalf("Get(%d) expected a record", seq)
		}
		if rec.Sequence != seq {
			t.Errorf("Get(%d).Sequence = %d, want %d", seq, rec.Sequence, seq)
		}
	}
	if _, ok, _ := r.Get(5); ok {
		t.Error("Get(5) expected no record past endseq")
	}
}

type fakeCursor struct {
	notified []uint64
}

func (f *fakeCursor) DataAvail(seq uint64) { f.notified = append(f.notified, seq) }

// TestS3Notification follows spec scenario S3.
func TestS3Notification(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	c1, c2 := &fakeCursor{}, &fakeCursor{}
	r.Subscribe(c1)
	r.Subscribe(c2)

	if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for name, c := range map[string]*fakeCursor{"c1": c1, "c2": c2} {
		if len(c.notified) != 1 || c.notified[0] != 0 {
			t.Errorf("%s.notified = %v, want [0]", name, c.notified)
		}
	}
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var id uint64
	removed := false
	selfRemoving := cursorFunc(func(seq uint64) {
		if !removed {
			r.Unsubscribe(id)
			removed = true
		}
	})
	id = r.Subscribe(selfRemoving)

	if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if !removed {
		t.Fatal("expected self-removal to have happened")
	}
}

type cursorFunc func(seq uint64)

func (f cursorFunc) DataAvail(seq uint64) { f(seq) }

// TestCrashRecoveryRoundTrip follows Testable Property 4.
func TestCrashRecoveryRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := r.Put(testRecord(t, "BHZ"), record.UnsetSequence); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}
	wantStart, wantEnd, wantShift, wantBase := r.StartSeq(), r.EndSeq(), r.shift, r.baseseq
	if err := r.mapped.Close(); err != nil {
		t.Fatalf("closing mapping: %v", err)
	}

	// Simulate an unclean shutdown: ring.json missing, only the backup
	// written by the very last successful Put survives.
	if err := os.Remove(filepath.Join(dir, metaFileName)); err != nil {
		t.Fatalf("removing ring.json: %v", err)
	}

	r2, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("reopening after simulated crash: %v", err)
	}
	defer r2.Close()

	if r2.StartSeq() != wantStart || r2.EndSeq() != wantEnd {
		t.Errorf("recovered startseq/endseq = %d/%d, want %d/%d", r2.StartSeq(), r2.EndSeq(), wantStart, wantEnd)
	}
	if r2.shift != wantShift || r2.baseseq != wantBase {
		t.Errorf("recovered shift/baseseq = %d/%d, want %d/%d", r2.shift, r2.baseseq, wantShift, wantBase)
	}
	if len(r2.Streams()) != 1 {
		t.Errorf("recovered stream count = %d, want 1", len(r2.Streams()))
	}
}

// TestPutLegacy24RealignsAgainstEndseq follows a legacy feed whose 24-bit
// wire sequence wraps well before the ring's real 64-bit sequence does:
// PutLegacy24 must reconstruct the full sequence from the ring's current
// high bits rather than truncating into the low 24 bits.
func TestPutLegacy24RealignsAgainstEndseq(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 4, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	// Push endseq's high bits past the 24-bit range.
	highSeq := uint64(1) << 24
	if _, err := r.Put(testRecord(t, "BHZ"), highSeq); err != nil {
		t.Fatalf("Put at high sequence: %v", err)
	}
	if r.EndSeq() != highSeq+1 {
		t.Fatalf("EndSeq() = %d, want %d", r.EndSeq(), highSeq+1)
	}

	// highSeq+1's low 24 bits is 1: a legacy frame reporting that should
	// realign to highSeq+1 against the ring's current high bits, not be
	// taken as the literal (and now long-evicted) sequence 1.
	ok, err := r.PutLegacy24(testRecord(t, "BHZ"), 1)
	if err != nil {
		t.Fatalf("PutLegacy24: %v", err)
	}
	if !ok {
		t.Fatal("PutLegacy24 returned false")
	}
	if r.EndSeq() != highSeq+2 {
		t.Fatalf("EndSeq() after PutLegacy24 = %d, want %d", r.EndSeq(), highSeq+2)
	}
	rec, ok, err := r.Get(highSeq + 1)
	if err != nil || !ok {
		t.Fatalf("Get(%d): ok=%v err=%v", highSeq+1, ok, err)
	}
	if rec.Sequence != highSeq+1 {
		t.Errorf("realigned record sequence = %d, want %d", rec.Sequence, highSeq+1)
	}
}

// TestOrderedStreamStartTimeNeverRegresses exercises an ordered=true ring:
// an out-of-order append must widen EndTime as usual but must never move
// StartTime backward, unlike an unordered (v3) ring.
func TestOrderedStreamStartTimeNeverRegresses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "XX.STA")
	r, err := Open(dir, "XX.STA", 8, 1024, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	first, err := record.New("XX.STA", "00", "BHZ", "2D", base, base.Add(time.Second), []byte("payload"))
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}
	if _, err := r.Put(first, record.UnsetSequence); err != nil {
		t.Fatalf("Put first: %v", err)
	}

	earlier := base.Add(-time.Hour)
	outOfOrder, err := record.New("XX.STA", "00", "BHZ", "2D", earlier, earlier.Add(time.Second), []byte("payload"))
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}
	if _, err := r.Put(outOfOrder, record.UnsetSequence); err != nil {
		t.Fatalf("Put out-of-order: %v", err)
	}

	streams := r.Streams()
	if len(streams) != 1 {
		t.Fatalf("stream count = %d, want 1", len(streams))
	}
	if !streams[0].StartTime.Equal(base) {
		t.Errorf("StartTime = %v, want unchanged %v (ordered ring must not regress)", streams[0].StartTime, base)
	}
}
