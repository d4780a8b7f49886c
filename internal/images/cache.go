package images

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DerivativeCache stores rendered variants as flat files named
// "{key}.{format}" under one directory. Entries are written once and never
// evicted; every entry can be re-derived from its original, so the whole
// directory is disposable.
type DerivativeCache struct {
	dir string
}

// NewDerivativeCache creates the cache directory if needed.
func NewDerivativeCache(dir string) (*DerivativeCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %q: %w", dir, err)
	}
	return &DerivativeCache{dir: dir}, nil
}

// Get returns the cached variant and true on a hit. Read faults count as
// misses so the pipeline falls back to re-rendering.
func (c *DerivativeCache) Get(key, format string) ([]byte, bool) {
	data, err := os.ReadFile(c.filename(key, format))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores a rendered variant. The bytes land in a temp file renamed over
// the final name, so concurrent writers of the same key cannot corrupt it
// and readers never observe a partial file.
func (c *DerivativeCache) Put(key, format string, data []byte) error {
	target := c.filename(key, format)
	tmp, err := os.CreateTemp(c.dir, ".render-*")
	if err != nil {
		return fmt.Errorf("cache %q: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache %q: %w", key, err)
	}
	return nil
}

// Purge removes every cached variant derived from the given image id and
// reports how many entries went away. The id matches as a literal prefix,
// never as a pattern.
func (c *DerivativeCache) Purge(id string) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), id+"_") {
			continue
		}
		if os.Remove(filepath.Join(c.dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}

func (c *DerivativeCache) filename(key, format string) string {
	return filepath.Join(c.dir, key+"."+format)
}
