package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seedlink4go/seedlink4/internal/ring"
)

func testArchiver(t *testing.T, handler http.HandlerFunc) *Archiver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), Config{
		Bucket:          "test-bucket",
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSubmitUploadsToEndpoint(t *testing.T) {
	received := make(chan string, 1)
	a := testArchiver(t, func(w http.ResponseWriter, r *http.Request) {
		received <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	defer a.Close()

	a.Submit(ring.Evicted{Station: "XX.STA", StreamID: "00_B_H_Z", Sequence: 42, Payload: []byte("data")})

	select {
	case path := <-received:
		if path == "" {
			t.Error("expected a non-empty request path")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an upload request within 2s")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	var count int
	done := make(chan struct{})
	a := testArchiver(t, func(w http.ResponseWriter, r *http.Request) {
		count++
		if count == 3 {
			close(done)
		}
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		a.Submit(ring.Evicted{Station: "XX.STA", Sequence: uint64(i), Payload: []byte("x")})
	}
	a.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected all 3 uploads to complete by Close")
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	a := testArchiver(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	})
	defer func() {
		close(block)
		a.Close()
	}()

	for i := 0; i < queueDepth+10; i++ {
		a.Submit(ring.Evicted{Station: "XX.STA", Sequence: uint64(i), Payload: []byte("x")})
	}
	// No assertion beyond "did not block or panic": Submit must be
	// non-blocking even when the single worker is stuck on a slow upload.
}
