// Package storage implements §4.4: a named collection of Rings rooted at a
// filesystem path, opened via the ring recovery protocol at startup.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/seedlink4go/seedlink4/internal/ring"
)

// Storage owns every Ring rooted at a directory, keyed by station name
// ("NET.STA", one subdirectory per ring).
type Storage struct {
	root             string
	defaultNBlocks   uint64
	defaultBlockSize uint64
	logger           *slog.Logger

	mu        sync.Mutex
	rings     map[string]*ring.Ring
	ringOrder []string // insertion order, per §12's CAT ordering
	evictHook func(ring.Evicted)
}

// Open enumerates root's immediate subdirectories and opens each as a Ring,
// skipping (with a warning) any entry that is not a valid ring directory.
func Open(root string, defaultNBlocks, defaultBlockSize uint64, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	s := &Storage{
		root:             root,
		defaultNBlocks:   defaultNBlocks,
		defaultBlockSize: defaultBlockSize,
		logger:           logger,
		rings:            make(map[string]*ring.Ring),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("storage: reading root %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		r, err := ring.Open(filepath.Join(root, name), name, defaultNBlocks, defaultBlockSize, true, logger)
		if err != nil {
			logger.Warn("skipping invalid ring directory", "name", name, "error", err)
			continue
		}
		s.rings[name] = r
		s.ringOrder = append(s.ringOrder, name)
	}
	return s, nil
}

// SetEvictHook installs fn on every ring currently open and on every ring
// opened afterward via CreateRing/EnsureRing, so a cold-storage archiver
// registered once at startup also covers stations first seen on a later
// Feed connection.
func (s *Storage) SetEvictHook(fn func(ring.Evicted)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictHook = fn
	for _, r := range s.rings {
		r.SetEvictHook(fn)
	}
}

// Ring returns the named ring, or false if no such station is known.
func (s *Storage) Ring(name string) (*ring.Ring, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[name]
	return r, ok
}

// CreateRing creates a new ring directory and opens it, for stations seen
// for the first time on a Feed connection.
func (s *Storage) CreateRing(name string, nblocks, blocksize uint64, ordered bool) (*ring.Ring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[name]; ok {
		return r, nil
	}
	r, err := ring.Open(filepath.Join(s.root, name), name, nblocks, blocksize, ordered, s.logger)
	if err != nil {
		return nil, fmt.Errorf("storage: creating ring %s: %w", name, err)
	}
	if s.evictHook != nil {
		r.SetEvictHook(s.evictHook)
	}
	s.rings[name] = r
	s.ringOrder = append(s.ringOrder, name)
	return r, nil
}

// EnsureRing returns the named ring, creating it with the storage's default
// capacity if it does not yet exist.
func (s *Storage) EnsureRing(name string) (*ring.Ring, error) {
	if r, ok := s.Ring(name); ok {
		return r, nil
	}
	return s.CreateRing(name, s.defaultNBlocks, s.defaultBlockSize, true)
}

// Cat returns every known ring name in the order rings were first seen
// (directory-scan order at startup, then creation order), per §12.
func (s *Storage) Cat() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ringOrder))
	copy(out, s.ringOrder)
	return out
}

// Close closes every open ring.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, name := range s.ringOrder {
		if err := s.rings[name].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
