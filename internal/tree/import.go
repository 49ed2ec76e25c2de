package tree

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stratahq/stratad/internal/store"
	"golang.org/x/sync/errgroup"
)

const (

	// Whiteout prefix marking a deleted path in a layer tar.
	whiteoutPrefix = ".wh."

	// Opaque whiteout marker clearing all lower-layer content of a directory.
	opaqueWhiteout = ".wh..wh..opq"

	// Number of layers fetched into the store concurrently.
	fetchParallelism = 3

	// Mode for directories created implicitly as tar entry parents.
	implicitDirMode = 0755
)

// Provides layer content for an import.
//
// Implementations return the uncompressed tar stream for a layer descriptor.
// The production implementation is backed by the registry transport; tests
// supply in-memory tars.
type LayerSource interface {
	Layer(ctx context.Context, desc ocispec.Descriptor) (io.ReadCloser, error)
}

// Converts image layer stacks into merged filesystem trees in the store.
type Importer struct {
	store *store.Store
}

// Creates an importer writing into the given store.
func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st}
}

// Imports a manifest's layers and returns the digest of the merged tree root.
//
// Layers are first fetched concurrently into the store as raw tar blobs,
// which bounds memory (streams go to disk) and is safe because store writes
// are idempotent. They are then applied in manifest order with standard
// overlay semantics: later layers override earlier paths, whiteout markers
// delete, opaque markers clear a directory. Finally the merged tree is
// serialized bottom-up into directory objects.
//
// Importing the same manifest twice yields the same root digest and writes
// no new objects on the second run. On failure no tree root is produced;
// any objects already written stay unreferenced until the next sweep.
func (imp *Importer) Import(ctx context.Context, manifest ocispec.Manifest, src LayerSource) (digest.Digest, error) {
	blobs, err := imp.fetchLayers(ctx, manifest.Layers, src)
	if err != nil {
		return "", err
	}

	root := newDirNode(implicitDirMode)
	for i, blob := range blobs {
		if err := imp.applyLayer(root, blob); err != nil {
			return "", fmt.Errorf("%w: layer %d (%s): %w", ErrImport, i+1, manifest.Layers[i].Digest, err)
		}
	}

	rootDigest, err := imp.writeTree(root)
	if err != nil {
		return "", err
	}

	slog.Debug("tree imported", "root", rootDigest, "layers", len(blobs))
	return rootDigest, nil
}

// Fetches all layer streams into the store concurrently.
//
// Returns the store digests of the raw layer tars, in manifest order. The
// blobs are intermediate artifacts: nothing references them after the
// import, so they are reclaimed by the next sweep.
func (imp *Importer) fetchLayers(ctx context.Context, layers []ocispec.Descriptor, src LayerSource) ([]digest.Digest, error) {
	blobs := make([]digest.Digest, len(layers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)

	for i, desc := range layers {
		i, desc := i, desc
		g.Go(func() error {
			rc, err := src.Layer(ctx, desc)
			if err != nil {
				return fmt.Errorf("%w: fetch layer %s: %w", ErrImport, desc.Digest, err)
			}
			defer rc.Close()

			counted := newCountingReader(rc)
			dgst, _, err := imp.store.Put(counted)
			if err != nil {
				return fmt.Errorf("%w: store layer %s: %w", ErrImport, desc.Digest, err)
			}

			slog.Debug("layer fetched", "layer", desc.Digest, "bytes", counted.Count())
			blobs[i] = dgst
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// Applies one layer tar on top of the in-memory staging tree.
//
// File content is streamed into the store as it is read from the tar; only
// metadata (digests, modes, the directory skeleton) is held in memory.
func (imp *Importer) applyLayer(root *node, blob digest.Digest) error {
	r, err := imp.store.Reader(blob)
	if err != nil {
		return err
	}
	defer r.Close()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "/"))
		if name == "." || name == "" {
			continue
		}

		if err := imp.applyEntry(root, name, hdr, tr); err != nil {
			return err
		}
	}
}

// Applies a single tar entry to the staging tree.
func (imp *Importer) applyEntry(root *node, name string, hdr *tar.Header, content io.Reader) error {
	base := path.Base(name)

	// Opaque whiteout: reset the directory, hiding all lower-layer content.
	if base == opaqueWhiteout {
		dir := root.ensureDir(path.Dir(name))
		dir.children = make(map[string]*node)
		return nil
	}

	// Plain whiteout: delete the named sibling and everything beneath it.
	if strings.HasPrefix(base, whiteoutPrefix) {
		dir := root.ensureDir(path.Dir(name))
		delete(dir.children, strings.TrimPrefix(base, whiteoutPrefix))
		return nil
	}

	parent := root.ensureDir(path.Dir(name))

	switch hdr.Typeflag {
	case tar.TypeDir:
		dir := parent.ensureChildDir(base)
		dir.mode = uint32(hdr.Mode)

	case tar.TypeReg:
		dgst, size, err := imp.store.Put(content)
		if err != nil {
			return fmt.Errorf("store file %s: %w", name, err)
		}
		parent.children[base] = &node{
			kind: KindFile,
			mode: uint32(hdr.Mode),
			size: size,
			dgst: dgst,
		}

	case tar.TypeSymlink:
		parent.children[base] = &node{
			kind:   KindSymlink,
			mode:   uint32(hdr.Mode),
			target: hdr.Linkname,
		}

	case tar.TypeLink:
		linked := root.lookup(path.Clean(strings.TrimPrefix(hdr.Linkname, "/")))
		if linked == nil || linked.kind != KindFile {
			return fmt.Errorf("hardlink %s: target %s not in tree", name, hdr.Linkname)
		}
		parent.children[base] = &node{
			kind: KindFile,
			mode: uint32(hdr.Mode),
			size: linked.size,
			dgst: linked.dgst,
		}

	default:
		// Device nodes, FIFOs and the like cannot be content-addressed.
		slog.Debug("skipping unsupported tar entry", "name", name, "type", hdr.Typeflag)
	}

	return nil
}

// Serializes the staging tree bottom-up into directory objects.
//
// Children are written before their parent so each directory listing can
// reference its children by digest. The returned digest identifies the root
// directory object.
func (imp *Importer) writeTree(n *node) (digest.Digest, error) {
	dir := Directory{Entries: make([]Entry, 0, len(n.children))}

	for name, child := range n.children {
		entry := Entry{
			Name:   name,
			Kind:   child.kind,
			Mode:   child.mode,
			Size:   child.size,
			Digest: child.dgst,
			Target: child.target,
		}

		if child.kind == KindDir {
			childDigest, err := imp.writeTree(child)
			if err != nil {
				return "", err
			}
			entry.Digest = childDigest
			entry.Size = 0
		}

		dir.Entries = append(dir.Entries, entry)
	}

	b, err := dir.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: serialize directory: %w", ErrImport, err)
	}

	dgst, err := imp.store.PutBytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: store directory: %w", ErrImport, err)
	}
	return dgst, nil
}

// In-memory staging node used while layers are applied.
//
// Only metadata lives here; file content is already in the store by the
// time a node references it.
type node struct {
	kind     Kind
	mode     uint32
	size     int64
	dgst     digest.Digest
	target   string
	children map[string]*node
}

// Creates an empty directory node.
func newDirNode(mode uint32) *node {
	return &node{
		kind:     KindDir,
		mode:     mode,
		children: make(map[string]*node),
	}
}

// Walks to the directory at the given path, creating missing components.
//
// A non-directory node in the way is replaced: a later layer that turns a
// file into a directory wins, matching overlay semantics.
func (n *node) ensureDir(p string) *node {
	if p == "." || p == "" {
		return n
	}

	current := n
	for _, part := range strings.Split(p, "/") {
		current = current.ensureChildDir(part)
	}
	return current
}

// Returns the named child as a directory, creating or replacing as needed.
func (n *node) ensureChildDir(name string) *node {
	child, ok := n.children[name]
	if !ok || child.kind != KindDir {
		child = newDirNode(implicitDirMode)
		n.children[name] = child
	}
	return child
}

// Finds the node at the given slash-separated path, or nil.
func (n *node) lookup(p string) *node {
	if p == "." || p == "" {
		return n
	}

	current := n
	for _, part := range strings.Split(p, "/") {
		if current.kind != KindDir {
			return nil
		}
		next, ok := current.children[part]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}
