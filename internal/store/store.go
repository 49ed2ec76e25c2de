package store

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
)

// Directory for in-flight writes, relative to the store root. Writes land
// here first and are renamed into place once their digest is known.
const stagingDir = "tmp"

// A content-addressed store of immutable objects on the local filesystem.
//
// Objects are keyed by the SHA-256 digest of their bytes and laid out as
// <root>/<algorithm>/<first two hex chars>/<remaining hex chars>. Identical
// content is stored exactly once regardless of how many trees reference it.
type Store struct {
	root string // Object directory root.
}

// Opens a store rooted at the given directory, creating it if needed.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, stagingDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Writes an object to the store, returning its digest and size.
//
// The stream is hashed while being written to a staging file. If an object
// with the resulting digest already exists, the staging file is discarded and
// no duplicate write occurs. Re-putting identical bytes is therefore
// idempotent and cheap.
func (s *Store) Put(r io.Reader) (digest.Digest, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), "put-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: staging file: %w", ErrStorage, err)
	}
	defer os.Remove(tmp.Name())

	digester := digest.SHA256.Digester()
	n, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("%w: write object: %w", ErrStorage, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("%w: sync object: %w", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("%w: close object: %w", ErrStorage, err)
	}

	dgst := digester.Digest()

	ok, err := s.Has(dgst)
	if err != nil {
		return "", 0, err
	}
	if ok {
		return dgst, n, nil
	}

	dest := s.path(dgst)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", 0, fmt.Errorf("%w: object dir: %w", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("%w: commit object %s: %w", ErrStorage, dgst, err)
	}

	return dgst, n, nil
}

// Writes a byte slice to the store, returning its digest.
func (s *Store) PutBytes(b []byte) (digest.Digest, error) {
	dgst := digest.FromBytes(b)

	ok, err := s.Has(dgst)
	if err != nil {
		return "", err
	}
	if ok {
		return dgst, nil
	}

	d, _, err := s.Put(bytes.NewReader(b))
	return d, err
}

// Reads an object and verifies its integrity.
//
// The stored bytes are re-hashed on every read; a mismatch against the
// requested digest reports [ErrCorruption] rather than returning bad data.
func (s *Store) Get(dgst digest.Digest) ([]byte, error) {
	if err := dgst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: digest %q: %w", ErrStorage, dgst, err)
	}

	b, err := os.ReadFile(s.path(dgst))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", dgst, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: read object %s: %w", ErrStorage, dgst, err)
	}

	if actual := digest.FromBytes(b); actual != dgst {
		return nil, fmt.Errorf("%w: object %s hashes to %s", ErrCorruption, dgst, actual)
	}

	return b, nil
}

// Opens an object for streaming reads.
//
// No integrity check is performed; callers that need verification should use
// [Store.Get] or [Store.Verify].
func (s *Store) Reader(dgst digest.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.path(dgst))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", dgst, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open object %s: %w", ErrStorage, dgst, err)
	}
	return f, nil
}

// Reports whether an object with the given digest exists.
func (s *Store) Has(dgst digest.Digest) (bool, error) {
	_, err := os.Stat(s.path(dgst))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat object %s: %w", ErrStorage, dgst, err)
}

// Re-hashes a stored object against its digest.
//
// Returns [ErrCorruption] on mismatch and a not-found error when the object
// is absent.
func (s *Store) Verify(dgst digest.Digest) error {
	_, err := s.Get(dgst)
	return err
}

// Lists the digests of all stored objects.
func (s *Store) Objects() ([]digest.Digest, error) {
	var out []digest.Digest

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == stagingDir && filepath.Dir(path) == s.root {
				return filepath.SkipDir
			}
			return nil
		}

		dgst, ok := s.digestForPath(path)
		if !ok {
			slog.Warn("foreign file in object store", "path", path)
			return nil
		}
		out = append(out, dgst)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk objects: %w", ErrStorage, err)
	}

	return out, nil
}

// Removes every object not present in the reachable set, returning the
// digests that were removed.
//
// Leftover staging files from aborted writes are removed as well. The
// reachable set is computed by the caller from the deployment ledger; the
// store itself has no notion of reachability.
func (s *Store) Sweep(reachable map[digest.Digest]struct{}) ([]digest.Digest, error) {
	objects, err := s.Objects()
	if err != nil {
		return nil, err
	}

	var removed []digest.Digest
	for _, dgst := range objects {
		if _, ok := reachable[dgst]; ok {
			continue
		}
		if err := os.Remove(s.path(dgst)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("%w: remove object %s: %w", ErrStorage, dgst, err)
		}
		removed = append(removed, dgst)
	}

	s.clearStaging()

	slog.Debug("store swept", "removed", len(removed), "kept", len(objects)-len(removed))
	return removed, nil
}

// Removes leftover staging files from aborted writes.
func (s *Store) clearStaging() {
	entries, err := os.ReadDir(filepath.Join(s.root, stagingDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(s.root, stagingDir, e.Name()))
	}
}

// Returns the filesystem path for an object digest.
func (s *Store) path(dgst digest.Digest) string {
	hex := dgst.Encoded()
	return filepath.Join(s.root, string(dgst.Algorithm()), hex[:2], hex[2:])
}

// Reconstructs an object digest from its filesystem path.
//
// Returns false for paths that do not match the <algorithm>/<xx>/<rest>
// store layout.
func (s *Store) digestForPath(path string) (digest.Digest, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", false
	}

	dgst := digest.Digest(parts[0] + ":" + parts[1] + parts[2])
	if err := dgst.Validate(); err != nil {
		return "", false
	}
	return dgst, true
}
