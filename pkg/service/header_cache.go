package service

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"colf/pkg/colf_file"
)

// headerCache keeps parsed file headers keyed by file path. Dataset files
// are never rewritten in place, so a path always maps to the same header.
type headerCache struct {
	cache   *lru.Cache[string, *colf_file.FileHeader]
	metrics *Metrics
}

func newHeaderCache(size int, metrics *Metrics) (*headerCache, error) {
	cache, err := lru.New[string, *colf_file.FileHeader](size)
	if err != nil {
		return nil, fmt.Errorf("create header cache: %w", err)
	}
	return &headerCache{cache: cache, metrics: metrics}, nil
}

func (c *headerCache) get(path string) (*colf_file.FileHeader, error) {
	if h, ok := c.cache.Get(path); ok {
		c.metrics.HeaderCacheHits.Inc()
		return h, nil
	}
	c.metrics.HeaderCacheMisses.Inc()

	h, err := colf_file.ReadFileHeader(path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(path, h)
	return h, nil
}

func (c *headerCache) forget(path string) {
	c.cache.Remove(path)
}
