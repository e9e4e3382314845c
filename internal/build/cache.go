// Package build provides the compiled-module cache, source fingerprints and
// the static resource builder.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/types"
)

// Key identifies a compiled module. Everything except Fingerprint names the
// cache slot; the fingerprint decides whether the slot is still current.
type Key struct {
	Specifier   string
	Mode        types.Mode
	Locale      string
	Fingerprint uint64
}

// ID returns the slot identity of the key.
func (k Key) ID() string {
	return strings.Join([]string{k.Specifier, string(k.Mode), k.Locale}, "|")
}

// String returns the full key including the fingerprint.
func (k Key) String() string {
	return fmt.Sprintf("%s|%016x", k.ID(), k.Fingerprint)
}

// ComputeFunc produces the resource for a missing key. Returning (nil, nil)
// means the compiler stayed silent.
type ComputeFunc func(ctx context.Context) (*types.Resource, error)

// ArtifactFunc returns where the compiled output of key is written on disk.
// ok is false for keys that have no on-disk artifact.
type ArtifactFunc func(key Key) (path string, ok bool)

type cacheEntry struct {
	key      Key
	resource *types.Resource
	artifact string
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Compiles int64
}

// ModuleCache maps keys to compiled resources and owns any file written for
// them, so invalidation always drops the memory entry and the file together.
// Concurrent requests for the same uncompiled key share one compile.
type ModuleCache struct {
	entries map[string]*cacheEntry
	mutex   sync.RWMutex
	group   singleflight.Group
	// generations counts invalidations per slot id. A compile only stores
	// its result when its slot was not invalidated meanwhile.
	generations map[string]uint64
	// inflight holds the keys being compiled, by full key string.
	inflight  map[string]Key
	artifacts ArtifactFunc
	logger    logging.Logger

	hits     int64
	misses   int64
	compiles int64
}

// NewModuleCache creates a cache. artifacts may be nil.
func NewModuleCache(artifacts ArtifactFunc, logger logging.Logger) *ModuleCache {
	return &ModuleCache{
		entries:     make(map[string]*cacheEntry),
		generations: make(map[string]uint64),
		inflight:    make(map[string]Key),
		artifacts:   artifacts,
		logger:      logger.WithComponent("module-cache"),
	}
}

// GetOrCompile returns the cached resource for key or runs compute once to
// produce it.
func (c *ModuleCache) GetOrCompile(ctx context.Context, key Key, compute ComputeFunc) (*types.Resource, error) {
	if res, ok := c.lookup(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return res, nil
	}
	atomic.AddInt64(&c.misses, 1)

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// A flight that finished between lookup and Do already stored it.
		if res, ok := c.lookup(key); ok {
			return res, nil
		}

		gen := c.begin(key)
		defer c.finish(key)
		atomic.AddInt64(&c.compiles, 1)

		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if res == nil {
			c.logger.Warn(ctx, nil, "Compiler returned no output", "specifier", key.Specifier)
			return types.CompilerSilent(key.Specifier), nil
		}

		c.store(ctx, key, res, gen)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Resource), nil
}

func (c *ModuleCache) begin(key Key) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inflight[key.String()] = key
	return c.generations[key.ID()]
}

func (c *ModuleCache) finish(key Key) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.inflight, key.String())
}

func (c *ModuleCache) lookup(key Key) (*types.Resource, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[key.ID()]
	if !ok || entry.key.Fingerprint != key.Fingerprint {
		return nil, false
	}
	return entry.resource, true
}

func (c *ModuleCache) store(ctx context.Context, key Key, res *types.Resource, gen uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	artifact := c.artifactPath(key)
	if artifact != "" {
		if err := c.syncArtifact(artifact, res); err != nil {
			c.logger.Warn(ctx, err, "Failed to update compiled artifact", "path", artifact)
		}
	}

	// The slot was invalidated while compiling.
	if c.generations[key.ID()] != gen {
		if artifact != "" {
			removeArtifact(artifact)
		}
		return
	}

	c.entries[key.ID()] = &cacheEntry{key: key, resource: res, artifact: artifact}
}

func (c *ModuleCache) artifactPath(key Key) string {
	if c.artifacts == nil {
		return ""
	}
	path, ok := c.artifacts(key)
	if !ok {
		return ""
	}
	return path
}

// syncArtifact writes successful component output and deletes the file for
// anything else, so a stale build is never left behind once an error is known.
func (c *ModuleCache) syncArtifact(path string, res *types.Resource) error {
	if !res.Success || res.Type != types.ResourceComponent {
		return removeArtifact(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(res.Code), 0o644)
}

func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Invalidate drops the slot of key and its artifact.
func (c *ModuleCache) Invalidate(key Key) bool {
	return c.InvalidateWhere(func(k Key) bool { return k.ID() == key.ID() }) > 0
}

// InvalidateWhere drops every slot whose key matches pred and returns how many
// were removed.
func (c *ModuleCache) InvalidateWhere(pred func(Key) bool) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, key := range c.inflight {
		if pred(key) {
			c.generations[key.ID()]++
		}
	}

	removed := 0
	for id, entry := range c.entries {
		if !pred(entry.key) {
			continue
		}
		if entry.artifact != "" {
			if err := removeArtifact(entry.artifact); err != nil {
				c.logger.Warn(context.Background(), err, "Failed to remove compiled artifact", "path", entry.artifact)
			}
		}
		delete(c.entries, id)
		c.generations[id]++
		removed++
	}
	return removed
}

// Clear drops every entry and artifact.
func (c *ModuleCache) Clear() {
	c.InvalidateWhere(func(Key) bool { return true })
}

// Len returns the number of cached slots.
func (c *ModuleCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *ModuleCache) Stats() CacheStats {
	return CacheStats{
		Entries:  c.Len(),
		Hits:     atomic.LoadInt64(&c.hits),
		Misses:   atomic.LoadInt64(&c.misses),
		Compiles: atomic.LoadInt64(&c.compiles),
	}
}
