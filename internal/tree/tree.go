package tree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/stratahq/stratad/internal/store"
)

// Kind of a filesystem tree entry.
type Kind string

const (
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
)

// A single child of a directory object.
//
// Files carry the digest of their content object and their size; symlinks
// carry their target inline and reference no object. Directories carry the
// digest of their own serialized listing, which makes the root digest a
// Merkle root over the entire tree.
type Entry struct {
	Name   string        `json:"name"`
	Kind   Kind          `json:"kind"`
	Mode   uint32        `json:"mode"`
	Size   int64         `json:"size,omitempty"`
	Digest digest.Digest `json:"digest,omitempty"`
	Target string        `json:"target,omitempty"`
}

// A directory object: the name-ordered listing of its children.
type Directory struct {
	Entries []Entry `json:"entries"`
}

// Serializes the directory with entries in name order.
//
// Ordering is part of the format: two directories with the same children
// must always serialize to the same bytes so they share one object.
func (d *Directory) Marshal() ([]byte, error) {
	sort.Slice(d.Entries, func(i, j int) bool {
		return d.Entries[i].Name < d.Entries[j].Name
	})
	return json.Marshal(d)
}

// Parses a serialized directory object.
func UnmarshalDirectory(b []byte) (*Directory, error) {
	var d Directory
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: decode directory: %w", ErrImport, err)
	}
	return &d, nil
}

// Finds an entry by slash-separated path, starting from a root directory
// object in the store.
func Lookup(st *store.Store, root digest.Digest, path string) (*Entry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	current := root
	for i, name := range parts {
		b, err := st.Get(current)
		if err != nil {
			return nil, err
		}
		dir, err := UnmarshalDirectory(b)
		if err != nil {
			return nil, err
		}

		entry := dir.find(name)
		if entry == nil {
			return nil, fmt.Errorf("%w: path %s", ErrNotInTree, path)
		}

		if i == len(parts)-1 {
			return entry, nil
		}
		if entry.Kind != KindDir {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrNotInTree, name)
		}
		current = entry.Digest
	}

	return nil, fmt.Errorf("%w: empty path", ErrNotInTree)
}

// Returns the entry with the given name, or nil.
func (d *Directory) find(name string) *Entry {
	for i := range d.Entries {
		if d.Entries[i].Name == name {
			return &d.Entries[i]
		}
	}
	return nil
}

// Computes the set of store digests reachable from the given tree roots.
//
// The result covers directory objects and file content objects. It is the
// input to [store.Store.Sweep]: everything outside the set is garbage.
func Reachable(st *store.Store, roots ...digest.Digest) (map[digest.Digest]struct{}, error) {
	reachable := make(map[digest.Digest]struct{})

	var walk func(dgst digest.Digest) error
	walk = func(dgst digest.Digest) error {
		if _, seen := reachable[dgst]; seen {
			return nil
		}
		reachable[dgst] = struct{}{}

		b, err := st.Get(dgst)
		if err != nil {
			return err
		}
		dir, err := UnmarshalDirectory(b)
		if err != nil {
			return err
		}

		for _, entry := range dir.Entries {
			switch entry.Kind {
			case KindDir:
				if err := walk(entry.Digest); err != nil {
					return err
				}
			case KindFile:
				reachable[entry.Digest] = struct{}{}
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root); err != nil {
			return nil, err
		}
	}

	return reachable, nil
}

// Re-hashes every object reachable from the given root.
//
// Directory objects are verified as part of the walk (reads go through
// [store.Store.Get]); file objects are verified explicitly. Returns the
// first corruption or missing-object error encountered.
func Check(st *store.Store, root digest.Digest) error {
	reachable, err := Reachable(st, root)
	if err != nil {
		return err
	}
	for dgst := range reachable {
		if err := st.Verify(dgst); err != nil {
			return err
		}
	}
	return nil
}
