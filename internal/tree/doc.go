// Package tree converts layered image filesystems into content-addressed
// trees.
//
// An [Importer] applies a manifest's layer tars in order against an
// in-memory staging skeleton, honoring overlay semantics (later layers
// override earlier paths, whiteout markers delete, opaque markers clear a
// directory), then serializes the merged result bottom-up into the store.
// Directory objects are name-ordered listings referencing children by
// digest, so the returned root digest is a Merkle root: two trees with the
// same content have the same root, and any difference anywhere changes it.
//
// File content is streamed into the store while the layer tar is read;
// whole layers are never held in memory. Layer fetches run concurrently,
// which is safe because store writes are idempotent.
//
// [Reachable] and [Check] support garbage collection and integrity
// verification by walking directory objects from a set of roots.
package tree
