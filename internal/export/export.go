// Package export snapshots a ring's live records to a tar stream,
// compressed with either parallel gzip or zstd, the same
// tar-writer-over-compressed-writer pipeline shape as the teacher's
// backup streamer, generalized from a filesystem scan to a ring scan.
package export

import (
	"archive/tar"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/seedlink4go/seedlink4/internal/record"
	"github.com/seedlink4go/seedlink4/internal/ring"
)

// Compression selects the backend used to wrap the tar stream.
type Compression string

const (
	// CompressionGzip uses klauspost/pgzip, the teacher's default.
	CompressionGzip Compression = "gzip"
	// CompressionZstd uses klauspost/compress/zstd, the teacher's alternate.
	CompressionZstd Compression = "zstd"
)

// Snapshot walks r's live records oldest-to-newest and writes a tar stream
// to dest, one file per record named "<sequence>.rec", wrapped in the
// requested compression. It returns the number of records written.
func Snapshot(r *ring.Ring, dest io.Writer, compression Compression) (int, error) {
	compressed, closeFn, err := wrap(dest, compression)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(compressed)

	count := 0
	seq := r.StartSeq()
	if seq == record.UnsetSequence {
		if err := tw.Close(); err != nil {
			return 0, fmt.Errorf("export: closing empty tar stream: %w", err)
		}
		return 0, closeFn()
	}

	for seq < r.EndSeq() {
		rec, ok, err := r.Get(seq)
		if err != nil {
			return count, fmt.Errorf("export: reading sequence %d: %w", seq, err)
		}
		if !ok {
			break
		}
		if err := writeRecord(tw, rec); err != nil {
			return count, err
		}
		count++
		seq = rec.Sequence + 1
	}

	if err := tw.Close(); err != nil {
		return count, fmt.Errorf("export: closing tar stream: %w", err)
	}
	if err := closeFn(); err != nil {
		return count, fmt.Errorf("export: closing compressed stream: %w", err)
	}
	return count, nil
}

func writeRecord(tw *tar.Writer, rec *record.Record) error {
	header := &tar.Header{
		Name:    fmt.Sprintf("%d.rec", rec.Sequence),
		Size:    int64(len(rec.Payload)),
		Mode:    0o644,
		ModTime: rec.EndTime,
	}
	if header.ModTime.IsZero() {
		header.ModTime = time.Unix(0, 0)
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("export: writing tar header for sequence %d: %w", rec.Sequence, err)
	}
	if _, err := tw.Write(rec.Payload); err != nil {
		return fmt.Errorf("export: writing payload for sequence %d: %w", rec.Sequence, err)
	}
	return nil
}

// wrap returns a writer that compresses into dest and a function that
// flushes and closes the compression trailer (but never closes dest
// itself, matching the teacher's pipeline where the socket outlives the
// compressor).
func wrap(dest io.Writer, compression Compression) (io.Writer, func() error, error) {
	switch compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(dest)
		if err != nil {
			return nil, nil, fmt.Errorf("export: creating zstd writer: %w", err)
		}
		return enc, enc.Close, nil
	case CompressionGzip, "":
		gz, err := pgzip.NewWriterLevel(dest, pgzip.BestSpeed)
		if err != nil {
			return nil, nil, fmt.Errorf("export: creating gzip writer: %w", err)
		}
		return gz, gz.Close, nil
	default:
		return nil, nil, fmt.Errorf("export: unknown compression %q", compression)
	}
}
