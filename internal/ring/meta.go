package ring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	dataFileName     = "ring.dat"
	metaFileName     = "ring.json"
	metaBackupName   = "ring.json.bak"
	metaTempSuffix   = ".tmp"
)

type streamMeta struct {
	StreamID  string    `json:"stream_id"`
	Location  string    `json:"location"`
	Channel   string    `json:"channel"`
	Format    string    `json:"format"`
	Type      byte      `json:"type"`
	StartTime time.Time `json:"starttime"`
	EndTime   time.Time `json:"endtime"`
}

type ringMeta struct {
	NBlocks   uint64       `json:"nblocks"`
	BlockSize uint64       `json:"blocksize"`
	Ordered   bool         `json:"ordered"`
	Shift     uint64       `json:"shift"`
	BaseSeq   uint64       `json:"baseseq"`
	StartSeq  uint64       `json:"startseq"`
	EndSeq    uint64       `json:"endseq"`
	Streams   []streamMeta `json:"streams"`
}

func (r *Ring) toMeta() ringMeta {
	m := ringMeta{
		NBlocks:   r.nblocks,
		BlockSize: r.blocksize,
		Ordered:   r.ordered,
		Shift:     r.shift,
		BaseSeq:   r.baseseq,
		StartSeq:  r.startseq,
		EndSeq:    r.endseq,
	}
	for _, id := range r.streamOrder {
		s := r.streams[id]
		m.Streams = append(m.Streams, streamMeta{
			StreamID: s.StreamID, Location: s.Location, Channel: s.Channel,
			Format: s.Format, Type: s.Type, StartTime: s.StartTime, EndTime: s.EndTime,
		})
	}
	return m
}

func (r *Ring) applyMeta(m ringMeta) {
	r.nblocks = m.NBlocks
	r.blocksize = m.BlockSize
	r.ordered = m.Ordered
	r.shift = m.Shift
	r.baseseq = m.BaseSeq
	r.startseq = m.StartSeq
	r.endseq = m.EndSeq
	r.streams = make(map[string]*Stream, len(m.Streams))
	r.streamOrder = r.streamOrder[:0]
	for _, sm := range m.Streams {
		r.streams[sm.StreamID] = &Stream{
			StreamID: sm.StreamID, Location: sm.Location, Channel: sm.Channel,
			Format: sm.Format, Type: sm.Type, StartTime: sm.StartTime, EndTime: sm.EndTime,
		}
		r.streamOrder = append(r.streamOrder, sm.StreamID)
	}
}

func readMeta(path string) (ringMeta, error) {
	var m ringMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("ring: parsing %s: %w", path, err)
	}
	return m, nil
}

// save persists the ring's current metadata following the rename-then-write
// discipline of §7: the previous ring.json becomes ring.json.bak before the
// freshly written file takes its place, so a crash mid-write always leaves
// one of the two files intact and parseable.
func (r *Ring) save() error {
	meta := r.toMeta()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ring: marshaling metadata: %w", err)
	}

	metaPath := filepath.Join(r.dir, metaFileName)
	backupPath := filepath.Join(r.dir, metaBackupName)
	tmpPath := metaPath + metaTempSuffix

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("ring: writing temp metadata: %w", err)
	}
	if _, err := os.Stat(metaPath); err == nil {
		if err := os.Rename(metaPath, backupPath); err != nil {
			return fmt.Errorf("ring: rotating metadata backup: %w", err)
		}
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		return fmt.Errorf("ring: committing metadata: %w", err)
	}
	return nil
}
