package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"colf/pkg/colf_file"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetExists   = errors.New("dataset already exists")
	// ErrStaleFile means the dataset was registered but the file it replaced
	// could not be deleted.
	ErrStaleFile = errors.New("replaced file not deleted")
)

const catalogFileName = "catalog.json"

// Catalog maps dataset names to colf files under a base directory and
// persists the mapping as JSON after every mutation.
type Catalog struct {
	Datasets map[string]*Dataset `json:"datasets"`
	FilePath string              `json:"-"`
	mu       sync.RWMutex
}

func NewCatalog(baseDir string) (*Catalog, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	c := &Catalog{
		Datasets: make(map[string]*Dataset),
		FilePath: filepath.Join(baseDir, catalogFileName),
	}
	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	if c.Datasets == nil {
		c.Datasets = make(map[string]*Dataset)
	}
	for name, d := range c.Datasets {
		if d == nil || d.File == nil {
			return fmt.Errorf("dataset %s has no file", name)
		}
	}
	return nil
}

// Save persists the catalog to disk. It acquires a read lock
func (c *Catalog) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.save()
}

// Assumes lock is held
func (c *Catalog) save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.FilePath)
}

// Register records a dataset stored at path. Registering an existing name
// replaces it; the previous file is deleted once its readers are done.
func (c *Catalog) Register(name, path string, schema colf_file.Schema, replace bool) (DatasetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, exists := c.Datasets[name]
	if exists && !replace {
		return DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetExists, name)
	}

	d := &Dataset{
		Name:      name,
		File:      &FileEntry{Path: path},
		Columns:   schema.Columns,
		NumRows:   schema.NumRows,
		CreatedAt: time.Now().UTC(),
	}
	c.Datasets[name] = d
	if err := c.save(); err != nil {
		if exists {
			c.Datasets[name] = prev
		} else {
			delete(c.Datasets, name)
		}
		return DatasetInfo{}, fmt.Errorf("failed to save catalog: %w", err)
	}

	if exists && prev.File.Path != path {
		if err := prev.File.MarkDeleted(); err != nil {
			return d.info(), fmt.Errorf("%w: %w", ErrStaleFile, err)
		}
	}
	return d.info(), nil
}

func (c *Catalog) Get(name string) (DatasetInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.Datasets[name]
	if !ok {
		return DatasetInfo{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return d.info(), nil
}

// List returns every dataset sorted by name.
func (c *Catalog) List() []DatasetInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]DatasetInfo, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		out = append(out, d.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Acquire pins the dataset's file until the returned handle is released.
func (c *Catalog) Acquire(name string) (*Handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.Datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	d.File.IncRef()
	return &Handle{DatasetInfo: d.info(), file: d.File}, nil
}

// Remove drops the dataset. Its file goes away when no handle is held.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.Datasets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}

	delete(c.Datasets, name)
	if err := c.save(); err != nil {
		c.Datasets[name] = d
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return d.File.MarkDeleted()
}
