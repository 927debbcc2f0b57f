// Package artifactcache implements a content-addressed compiled-graph
// cache: a JSON-persisted map from basename to a content digest, used both
// for ordinary dependency files (model files, lexicon files) and for
// compiled FST graphs, whose own digest stands in for "the set of
// dependency digests current when this graph was compiled".
package artifactcache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MrWong99/glyphoxa-grammar/internal/grammarerr"
)

// Version is bumped whenever the on-disk cache schema or the digest
// derivation changes incompatibly, forcing every existing cache to reset.
const Version = "1"

// dependenciesKey, hashKey are the fixed entries alongside per-basename
// digests in the persisted document.
const (
	dependenciesKey = "dependencies_list"
	hashKey         = "dependencies_hash"
	versionKey      = "version"
)

// document is the on-disk JSON shape: a flat map plus a handful of
// reserved keys (version, dependencies_list, dependencies_hash) alongside
// the per-basename digests, matching the original's single flat dict.
type document map[string]json.RawMessage

// Cache maps basenames to content digests and tracks the combined digest of
// a named set of dependency files. Safe for concurrent use by multiple
// compile workers.
type Cache struct {
	mu       sync.Mutex
	path     string
	entries  map[string]string // basename -> sha1 hex digest, or dependenciesHash for an fst entry
	depList  []string          // sorted dependency names (not paths)
	depHash  string
	isNew    bool
	dirty    bool
}

// Open loads filename as a cache document, or starts a fresh empty cache if
// it is missing, unreadable, version-mismatched, or its recorded dependency
// set / any dependency file's content no longer matches deps.
//
// deps maps a human-readable dependency name to its file path. Paths that
// do not currently exist are skipped when checking staleness and when
// recomputing the dependency hash, mirroring the original's handling of
// optional dependency files.
func Open(path string, deps map[string]string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]string)}

	loaded, err := load(path)
	if err != nil {
		loaded = nil // missing or corrupt: fall through to reset
	}

	mustReset := loaded == nil
	if loaded != nil {
		if loaded.version != Version {
			mustReset = true
		} else if !sameSorted(loaded.depList, sortedKeys(deps)) {
			mustReset = true
		} else {
			for name, path := range deps {
				if path == "" || !fileExists(path) {
					continue
				}
				if !loaded.fileIsCurrent(path) {
					mustReset = true
					break
				}
				_ = name
			}
		}
	}

	if !mustReset {
		c.entries = loaded.entries
		c.depList = loaded.depList
		c.depHash = loaded.depHash
		c.isNew = false
		c.dirty = false
		return c, nil
	}

	c.isNew = true
	c.dirty = false
	if err := c.updateDependencies(deps); err != nil {
		return nil, err
	}
	if err := c.Save(); err != nil {
		return nil, err
	}
	return c, nil
}

type loadedDoc struct {
	version string
	depList []string
	depHash string
	entries map[string]string
}

func load(path string) (*loadedDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := &loadedDoc{entries: make(map[string]string)}
	for k, v := range doc {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		switch k {
		case versionKey:
			out.version = s
		case hashKey:
			out.depHash = s
		case dependenciesKey:
			// handled below via raw list unmarshal
		default:
			out.entries[k] = s
		}
	}
	if raw, ok := doc[dependenciesKey]; ok {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			out.depList = list
		}
	}
	return out, nil
}

func (d *loadedDoc) fileIsCurrent(path string) bool {
	name := filepath.Base(path)
	digest, ok := d.entries[name]
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return digest == HashData(data)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sameSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// HashData returns the hex SHA-1 digest of data, the digest function used
// for every entry in the cache.
func HashData(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// updateDependencies recomputes every dependency file's digest and the
// combined dependencies_hash, called whenever the cache is (re)initialized.
func (c *Cache) updateDependencies(deps map[string]string) error {
	names := sortedKeys(deps)
	for _, name := range names {
		path := deps[name]
		if path == "" || !fileExists(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return grammarerr.New(grammarerr.KindCompile, "artifactcache.updateDependencies", err)
		}
		c.entries[filepath.Base(path)] = HashData(data)
	}
	c.depList = names

	digests := make([]string, 0, len(names))
	for _, name := range names {
		digests = append(digests, c.entries[filepath.Base(deps[name])])
	}
	c.depHash = HashData([]byte(fmt.Sprintf("%v", digests)))
	c.dirty = true
	return nil
}

// Save persists the cache to its backing file.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Cache) saveLocked() error {
	doc := make(document, len(c.entries)+3)
	encode := func(key string, v any) {
		b, _ := json.Marshal(v)
		doc[key] = b
	}
	encode(versionKey, Version)
	encode(dependenciesKey, c.depList)
	encode(hashKey, c.depHash)
	for k, v := range c.entries {
		encode(k, v)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return grammarerr.New(grammarerr.KindCompile, "artifactcache.Save", err)
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		return grammarerr.New(grammarerr.KindCompile, "artifactcache.Save", err)
	}
	c.dirty = false
	return nil
}

// Dirty reports whether the cache has unsaved changes.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// AddFile records the digest of data under filepath's basename.
func (c *Cache) AddFile(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[filepath.Base(path)] = HashData(data)
	c.dirty = true
}

// AddGraph records path (a compiled graph file) as current: its entry is
// set to the cache's combined dependencies_hash, the same sentinel used by
// the original so that a graph's own entry doesn't need re-hashing its
// (large) contents — only the currently-live dependency set needs to match.
func (c *Cache) AddGraph(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[filepath.Base(path)] = c.depHash
	c.dirty = true
}

// Contains reports whether filename's recorded digest equals HashData(data).
func (c *Cache) Contains(filename string, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	digest, ok := c.entries[filename]
	return ok && digest == HashData(data)
}

// FileIsCurrent reports whether path exists on disk and its content digest
// matches the cache's recorded entry for its basename.
func (c *Cache) FileIsCurrent(path string) bool {
	name := filepath.Base(path)
	if !fileExists(path) {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return c.Contains(name, data)
}

// GraphIsCurrent reports whether path (a compiled graph file) exists and its
// recorded entry still equals the cache's current dependencies_hash — i.e.
// no dependency has changed since it was compiled.
func (c *Cache) GraphIsCurrent(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := filepath.Base(path)
	digest, ok := c.entries[name]
	return ok && digest == c.depHash && fileExists(path)
}

// GraphFilename returns the content-addressed filename for fstText: the
// SHA-1 hex digest of its UTF-8 bytes, suffixed ".fst".
func GraphFilename(fstText string) string {
	return HashData([]byte(fstText)) + ".fst"
}

// Invalidate drops all per-basename entries except those belonging to the
// tracked dependency set, keeping version/dependencies_list/dependencies_hash
// and each dependency's own digest intact. If filename is non-empty, only
// that single entry is dropped instead.
func (c *Cache) Invalidate(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if filename != "" {
		delete(c.entries, filename)
		c.dirty = true
		return
	}
	kept := make(map[string]string, len(c.depList))
	for _, name := range c.depList {
		if digest, ok := c.entries[name]; ok {
			kept[name] = digest
		}
	}
	c.entries = kept
	c.dirty = true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Entries returns a snapshot of every basename currently tracked in the
// cache, sorted for stable output. Intended for operator inspection
// tooling; not used by the compile pipeline itself.
func (c *Cache) Entries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependencyList returns the sorted list of dependency names the cache was
// opened with.
func (c *Cache) DependencyList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.depList))
	copy(out, c.depList)
	return out
}
