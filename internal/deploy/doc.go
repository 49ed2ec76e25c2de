// Package deploy owns the deployment ledger and its transactional
// mutations.
//
// The ledger is the single source of truth for which filesystem tree the
// system boots into. It is persisted as a JSON file replaced atomically
// (write new, fsync, rename, fsync directory), so at every instant,
// including across power loss, the on-disk ledger is either the old state
// or the new state in full. Mutations are serialized host-wide by an
// exclusive flock; status reads take a lock-free snapshot and are never
// blocked by an in-flight mutation.
//
// A deployment moves staged -> booted when committed and booted -> rollback
// when superseded. It leaves the ledger only through explicit pruning,
// which also sweeps the content store of objects no remaining deployment
// reaches.
//
// Bootloader entries are managed through the [BootManager] capability
// interface so the engine never assumes a specific bootloader format.
package deploy
