package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loqalabs/loqa-podcast/internal/audio"
)

// Cache stores synthesized audio on disk with a small in-memory LRU in front.
// Entries are content addressed, so concurrent writers of one key agree.
type Cache struct {
	dir    string
	ext    string
	mem    *lru.Cache[string, []byte]
	hits   atomic.Int64
	misses atomic.Int64
}

type CacheStats struct {
	Dir     string `json:"dir"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Size    string `json:"size"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Memory  int    `json:"memory_entries"`
}

func NewCache(dir, ext string, memEntries int) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if memEntries <= 0 {
		memEntries = 64
	}
	mem, err := lru.New[string, []byte](memEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{dir: dir, ext: strings.TrimPrefix(ext, "."), mem: mem}, nil
}

// CacheKey identifies a rendering by voice, exact markup and output encoding.
func CacheKey(voice, markup string, format audio.Format, sampleRate int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s:%s", format, sampleRate, voice, markup)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+"."+c.ext)
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if data, ok := c.mem.Get(key); ok {
		c.hits.Add(1)
		return data, true
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.mem.Add(key, data)
	c.hits.Add(1)
	return data, true
}

// Put writes through a temp file and rename. An existing entry is left alone.
func (c *Cache) Put(key string, data []byte) error {
	c.mem.Add(key, data)
	target := c.path(key)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (c *Cache) entries() ([]os.DirEntry, error) {
	all, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var out []os.DirEntry
	for _, e := range all {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "."+c.ext) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *Cache) Stats() (CacheStats, error) {
	stats := CacheStats{Dir: c.dir, Hits: c.hits.Load(), Misses: c.misses.Load(), Memory: c.mem.Len()}
	entries, err := c.entries()
	if err != nil {
		return stats, fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.Bytes += info.Size()
	}
	stats.Size = humanize.Bytes(uint64(stats.Bytes))
	return stats, nil
}

// Clear removes every cached rendering and returns how many files went away.
func (c *Cache) Clear() (int, error) {
	c.mem.Purge()
	entries, err := c.entries()
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
