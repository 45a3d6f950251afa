// Package sysstats periodically collects host resource metrics, the same
// polling shape as the teacher's SystemMonitor. seedlinkd starts a Monitor
// at startup; no INFO level or slinfo output reports its Stats.
package sysstats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is a point-in-time snapshot of host resource usage.
type Stats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
	CollectedAt      time.Time
}

// Monitor collects Stats on a fixed interval in the background. The disk
// metric reports usage of a configured storage root rather than "/", since
// that is the volume the ring files actually consume.
type Monitor struct {
	logger      *slog.Logger
	storageRoot string
	interval    time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a Monitor that reports disk usage for storageRoot, polling
// every interval (15s if interval <= 0).
func New(logger *slog.Logger, storageRoot string, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		logger:      logger.With("component", "sysstats"),
		storageRoot: storageRoot,
		interval:    interval,
		close:       make(chan struct{}),
	}
}

// Start begins background collection.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected snapshot.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	s := Stats{CollectedAt: time.Now()}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	root := m.storageRoot
	if root == "" {
		root = "/"
	}
	if d, err := disk.Usage(root); err == nil {
		s.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "path", root, "error", err)
	}

	if l, err := load.Avg(); err == nil {
		s.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}
