// Package store implements the content-addressed object store.
//
// Every object (file content or serialized directory listing) is keyed by
// the SHA-256 digest of its bytes, so identical content across any number
// of deployments occupies disk space exactly once. Writes go through a
// staging directory and are renamed into place, making [Store.Put]
// idempotent and safe under concurrent imports of overlapping layers.
// Reads re-hash the stored bytes, so corruption surfaces as an explicit
// error instead of bad data.
//
// The store has no ownership model. Garbage collection is driven from the
// outside: the deployment ledger computes the set of reachable digests and
// passes it to [Store.Sweep], which removes everything else. Objects left
// behind by aborted imports are unreachable by construction and are
// reclaimed the same way.
//
// Example usage:
//
//	st, err := store.Open(paths.Objects())
//	if err != nil {
//	    return err
//	}
//
//	dgst, _, err := st.Put(f)
//	if err != nil {
//	    return err
//	}
//
//	b, err := st.Get(dgst)
//	if err != nil {
//	    return err
//	}
package store
