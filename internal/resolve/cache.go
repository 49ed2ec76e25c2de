package resolve

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Digest-keyed cache of image descriptions.
//
// A cache entry is trusted only after its manifest bytes re-hash to the
// entry's digest, so a hit is equivalent to a verified registry response
// and needs no network and no re-verification.
type Cache struct {
	dir string
}

// Opens a description cache rooted at dir, creating it if needed.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Looks up a description by manifest digest.
//
// An entry whose manifest no longer hashes to the requested digest is
// discarded and reported as a miss.
func (c *Cache) Get(dgst digest.Digest) (*Description, bool) {
	data, err := os.ReadFile(c.path(dgst))
	if err != nil {
		return nil, false
	}

	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		c.evict(dgst)
		return nil, false
	}

	if digest.FromBytes(desc.Manifest) != dgst {
		slog.Warn("manifest cache entry corrupt", "digest", dgst)
		c.evict(dgst)
		return nil, false
	}

	return &desc, true
}

// Stores a description keyed by its manifest digest.
//
// Cache writes are best-effort; a failure is logged and the description is
// still usable by the caller.
func (c *Cache) Put(desc *Description) {
	data, err := json.Marshal(desc)
	if err != nil {
		slog.Warn("manifest cache encode failed", "digest", desc.Digest, "error", err)
		return
	}

	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		slog.Warn("manifest cache write failed", "digest", desc.Digest, "error", err)
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		slog.Warn("manifest cache write failed", "digest", desc.Digest, "error", err)
		return
	}
	tmp.Close()

	if err := os.Rename(tmp.Name(), c.path(desc.Digest)); err != nil {
		slog.Warn("manifest cache write failed", "digest", desc.Digest, "error", err)
	}
}

// Removes a cache entry.
func (c *Cache) evict(dgst digest.Digest) {
	os.Remove(c.path(dgst))
}

// Returns the cache file path for a digest.
func (c *Cache) path(dgst digest.Digest) string {
	return filepath.Join(c.dir, strings.ReplaceAll(dgst.String(), ":", "-")+".json")
}
