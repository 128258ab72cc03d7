package metadata

import (
	"fmt"
	"os"
	"sync"
	"time"

	"colf/pkg/colf_file"
)

// FileEntry is a colf file owned by the catalog. Readers hold a reference
// while they read it; a removed entry deletes its file once the last
// reference is released.
type FileEntry struct {
	Path     string `json:"path"`
	refCount int
	deleted  bool // no longer in the catalog
	mu       sync.Mutex
}

func (f *FileEntry) IncRef() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCount++
}

func (f *FileEntry) DecRef() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refCount > 0 {
		f.refCount--
	}
	return f.tryCleanup()
}

func (f *FileEntry) MarkDeleted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
	return f.tryCleanup()
}

func (f *FileEntry) RefCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refCount
}

// must be called with the mutex held
func (f *FileEntry) tryCleanup() error {
	if f.deleted && f.refCount == 0 {
		err := os.Remove(f.Path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file %s: %w", f.Path, err)
		}
	}
	return nil
}

type Dataset struct {
	Name      string                   `json:"name"`
	File      *FileEntry               `json:"file"`
	Columns   []colf_file.ColumnSchema `json:"columns"`
	NumRows   uint64                   `json:"num_rows"`
	CreatedAt time.Time                `json:"created_at"`
}

// DatasetInfo is a point-in-time copy of a Dataset, safe to hand out.
type DatasetInfo struct {
	Name      string                   `json:"name"`
	Path      string                   `json:"path"`
	Columns   []colf_file.ColumnSchema `json:"columns"`
	NumRows   uint64                   `json:"num_rows"`
	CreatedAt time.Time                `json:"created_at"`
}

func (d *Dataset) info() DatasetInfo {
	cols := make([]colf_file.ColumnSchema, len(d.Columns))
	copy(cols, d.Columns)
	return DatasetInfo{
		Name:      d.Name,
		Path:      d.File.Path,
		Columns:   cols,
		NumRows:   d.NumRows,
		CreatedAt: d.CreatedAt,
	}
}

// Handle keeps a dataset's file alive until Release is called.
type Handle struct {
	DatasetInfo
	file *FileEntry
	once sync.Once
}

func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		err = h.file.DecRef()
	})
	return err
}
