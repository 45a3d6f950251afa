package ring

import (
	"fmt"
	"os"
	"syscall"
)

// mappedFile owns a memory-mapped region backing a ring's data file. Unlike
// the byte-wraparound double-mapping trick some ring-buffer implementations
// use for raw streaming bytes, records here are addressed by fixed-size
// slot index, so a single straight mmap of the whole file is sufficient.
type mappedFile struct {
	file *os.File
	data []byte
}

// openMapped opens (creating if necessary) path, truncates it to size bytes,
// and maps it read/write.
func openMapped(path string, size int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ring: opening %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("ring: truncating %s to %d bytes: %w", path, size, err)
	}
	if size == 0 {
		return &mappedFile{file: f, data: nil}, nil
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ring: mmap %s: %w", path, err)
	}
	return &mappedFile{file: f, data: data}, nil
}

// Close unmaps and closes the underlying file.
func (m *mappedFile) Close() error {
	var err error
	if m.data != nil {
		err = syscall.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
