package cursor

import (
	"testing"
	"time"

	"github.com/seedlink4go/seedlink4/internal/record"
	"github.com/seedlink4go/seedlink4/internal/ring"
	"github.com/seedlink4go/seedlink4/internal/selector"
)

func testRecord(t *testing.T, channel string, start time.Time) *record.Record {
	t.Helper()
	rec, err := record.New("XX.STA", "00", channel, "2D", start, start.Add(time.Second), []byte("payload"))
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}
	return rec
}

func openRing(t *testing.T) *ring.Ring {
	t.Helper()
	dir := t.TempDir() + "/XX.STA"
	r, err := ring.Open(dir, "XX.STA", 8, 1024, true, nil)
	if err != nil {
		t.Fatalf("ring.Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNextDeliversInOrder(t *testing.T) {
	r := openRing(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := r.Put(testRecord(t, "BHZ", base.Add(time.Duration(i)*time.Second)), record.UnsetSequence); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	c := New(r)
	c.SetSequence(0, true)
	for seq := uint64(0); seq < 3; seq++ {
		rec, ok := c.Next()
		if !ok {
			t.Fatalf("Next() at seq %d: expected a record", seq)
		}
		if rec.Sequence != seq {
			t.Errorf("Next().Sequence = %d, want %d", rec.Sequence, seq)
		}
	}
	if _, ok := c.Next(); ok {
		t.Error("Next() past the end expected no record")
	}
}

func TestDialupReachesEOD(t *testing.T) {
	r := openRing(t)
	if _, err := r.Put(testRecord(t, "BHZ", time.Now()), record.UnsetSequence); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c := New(r)
	c.SetSequence(0, true)
	c.SetDialup(true)

	if _, ok := c.Next(); !ok {
		t.Fatal("expected the one available record")
	}
	if _, ok := c.Next(); ok {
		t.Fatal("expected no more records")
	}
	if !c.EOD() {
		t.Error("expected EOD after dialup exhaustion")
	}
}

func TestUnsetSequenceWaitsForNotification(t *testing.T) {
	r := openRing(t)
	c := New(r)
	c.SetSequence(record.UnsetSequence, true)

	if _, ok := c.Next(); ok {
		t.Fatal("expected no record before any notification resolves the tail position")
	}

	rec := testRecord(t, "BHZ", time.Now())
	if _, err := r.Put(rec, record.UnsetSequence); err != nil {
		t.Fatalf("Put: %v", err)
	}
	seq := rec.Sequence

	select {
	case <-c.Wake():
	default:
		t.Fatal("expected a wake signal after Put")
	}

	got, ok := c.Next()
	if !ok {
		t.Fatal("expected the record that triggered the first notification")
	}
	if got.Sequence != seq {
		t.Errorf("Next().Sequence = %d, want %d", got.Sequence, seq)
	}
}

func TestTimeWindowFiltersAndTerminates(t *testing.T) {
	r := openRing(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := r.Put(testRecord(t, "BHZ", base.Add(time.Duration(i)*time.Minute)), record.UnsetSequence); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	c := New(r)
	c.SetSequence(0, true)
	c.SetTimeWindow(base.Add(time.Minute), base.Add(2*time.Minute+30*time.Second))

	var got []uint64
	for {
		rec, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, rec.Sequence)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got sequences %v, want [1 2]", got)
	}
	if !c.EOD() {
		t.Error("expected EOD once the end-time boundary is passed")
	}
}

func TestSelectorAndFormatFilter(t *testing.T) {
	r := openRing(t)
	base := time.Now()
	if _, err := r.Put(testRecord(t, "BHZ", base), record.UnsetSequence); err != nil {
		t.Fatalf("Put BHZ: %v", err)
	}
	if _, err := r.Put(testRecord(t, "LHZ", base.Add(time.Second)), record.UnsetSequence); err != nil {
		t.Fatalf("Put LHZ: %v", err)
	}

	sel, err := selector.Compile("BHZ", false)
	if err != nil {
		t.Fatalf("selector.Compile: %v", err)
	}
	c := New(r)
	c.SetSequence(0, true)
	c.AddSelector(sel)

	rec, ok := c.Next()
	if !ok {
		t.Fatal("expected BHZ record to pass the selector")
	}
	if rec.Channel != "BHZ" {
		t.Errorf("Next().Channel = %q, want BHZ", rec.Channel)
	}
	if _, ok := c.Next(); ok {
		t.Error("expected LHZ record to be filtered out by the selector")
	}
}
