package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	"github.com/stratahq/stratad/internal/store"
	"github.com/stratahq/stratad/internal/tree"
)

// Owns the deployment ledger and performs its durable mutations.
//
// All mutations (stage, commit, rollback, prune) are serialized by an
// exclusive file lock plus an in-process mutex and persisted with atomic
// replace semantics. The on-disk ledger is authoritative: every mutation
// re-reads it under the lock, so managers in separate processes observe
// each other's committed state instead of overwriting it. Reads go through
// [Manager.Snapshot], which never blocks on a mutation in flight.
type Manager struct {
	path     string       // Ledger file path.
	lockPath string       // Lock file guarding cross-process mutations.
	store    *store.Store // Content store holding deployment trees.
	boot     BootManager  // Bootloader collaborator.

	persist func(path string, l *Ledger) error // Ledger writer, replaceable in tests.

	mu      sync.Mutex             // Serializes in-process mutations.
	current atomic.Pointer[Ledger] // Last persisted ledger, for lock-free reads.
}

// Retention policy for pruning.
type PrunePolicy struct {

	// Number of rollback deployments to keep, newest first. Booted and
	// staged deployments are never pruned.
	KeepRollback int
}

// Opens the ledger at path, creating an empty one if none exists.
func Open(path, lockPath string, st *store.Store, boot BootManager) (*Manager, error) {
	ledger, err := loadLedger(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:     path,
		lockPath: lockPath,
		store:    st,
		boot:     boot,
		persist:  saveLedger,
	}
	m.current.Store(ledger)
	return m, nil
}

// Returns a consistent point-in-time view of the ledger.
//
// The snapshot is a copy of the last persisted state. It requires no lock
// and is never blocked by an in-progress mutation.
func (m *Manager) Snapshot() *Ledger {
	return m.current.Load().Clone()
}

// Records a new deployment with status staged.
//
// The tree root must resolve in the content store. The deployment and its
// boot entry are durable before Stage returns: a crash afterwards leaves a
// ledger containing the staged deployment, and a crash before leaves the
// previous ledger intact. A previously staged deployment is superseded and
// removed; the booted deployment is never touched.
func (m *Manager) Stage(ctx context.Context, root digest.Digest, src Source) (Deployment, error) {
	if err := m.store.Verify(root); err != nil {
		return Deployment{}, fmt.Errorf("stage: tree root %s: %w", root, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	flock, err := acquireLock(m.lockPath)
	if err != nil {
		return Deployment{}, err
	}
	defer flock.release()

	// Another process may have mutated the ledger since this manager last
	// persisted; the lock is held, so the file is the source of truth.
	ledger, err := loadLedger(m.path)
	if err != nil {
		return Deployment{}, err
	}

	if stale := ledger.ByStatus(StatusStaged); stale != nil {
		slog.Info("superseding staged deployment", "id", stale.ID)
		if err := m.boot.Remove(stale.BootEntry); err != nil {
			slog.Warn("failed to remove superseded boot entry", "id", stale.ID, "error", err)
		}
		ledger.remove(stale.ID)
	}

	ledger.Sequence++
	d := Deployment{
		ID:           ledger.Sequence,
		Root:         root,
		Source:       src.Reference,
		SourceDigest: src.Digest,
		OSName:       src.OSName,
		OSVersion:    src.OSVersion,
		CreatedAt:    time.Now().UTC(),
		Status:       StatusStaged,
	}

	handle, err := m.boot.Create(d)
	if err != nil {
		return Deployment{}, fmt.Errorf("%w: create boot entry: %w", ErrLedger, err)
	}
	d.BootEntry = handle

	ledger.Deployments = append(ledger.Deployments, d)

	if err := m.persist(m.path, ledger); err != nil {
		m.boot.Remove(handle)
		return Deployment{}, err
	}
	m.current.Store(ledger)

	slog.Info("deployment staged", "id", d.ID, "root", d.Root, "source", d.Source)
	return d, nil
}

// Atomically switches the default boot target to a staged deployment.
//
// The bootloader is pointed at the deployment's entry, then the ledger is
// persisted with its single atomic replace: the target becomes booted and
// the previously booted deployment becomes rollback history. There is no
// observable intermediate state; if the ledger write fails the bootloader
// is pointed back and the prior deployment remains authoritative. Once the
// durable write has begun it runs to completion; ctx is not consulted.
func (m *Manager) Commit(ctx context.Context, id uint64) error {
	return m.switchTo(id, StatusStaged, "commit")
}

// Atomically switches the default boot target back to a rollback deployment.
//
// Same atomicity contract as [Manager.Commit]. The target must still be in
// the ledger with rollback status; a pruned or staged target reports
// [ErrNotEligible].
func (m *Manager) Rollback(ctx context.Context, id uint64) error {
	return m.switchTo(id, StatusRollback, "rollback")
}

// Shared switch path for commit and rollback.
func (m *Manager) switchTo(id uint64, want Status, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flock, err := acquireLock(m.lockPath)
	if err != nil {
		return err
	}
	defer flock.release()

	ledger, err := loadLedger(m.path)
	if err != nil {
		return err
	}

	target := ledger.Find(id)
	if target == nil {
		// Absent from the ledger means pruned or never staged; either way
		// it cannot become the boot target.
		return fmt.Errorf("%w: %s: deployment %d not in ledger: %w", ErrNotEligible, op, id, errdefs.ErrNotFound)
	}
	if target.Status != want {
		return fmt.Errorf("%w: %s: deployment %d has status %s, want %s", ErrNotEligible, op, id, target.Status, want)
	}

	previous := ledger.ByStatus(StatusBooted)

	if err := m.boot.Point(target.BootEntry); err != nil {
		return fmt.Errorf("%w: point boot entry: %w", ErrLedger, err)
	}

	target.Status = StatusBooted
	ledger.Booted = id
	ledger.NextBoot = id
	if previous != nil {
		previous.Status = StatusRollback
	}

	if err := m.persist(m.path, ledger); err != nil {
		// The ledger on disk still names the previous deployment; point
		// the bootloader back at it so the two agree.
		if previous != nil {
			m.boot.Point(previous.BootEntry)
		}
		return err
	}
	m.current.Store(ledger)

	slog.Info("boot target switched", "op", op, "id", id, "root", target.Root)
	return nil
}

// Removes rollback deployments beyond the retention policy.
//
// Booted and staged deployments are never removed. After the ledger is
// persisted, the content store is swept: every object not reachable from a
// remaining deployment's tree is deleted. Returns the IDs of the removed
// deployments.
func (m *Manager) Prune(ctx context.Context, policy PrunePolicy) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flock, err := acquireLock(m.lockPath)
	if err != nil {
		return nil, err
	}
	defer flock.release()

	ledger, err := loadLedger(m.path)
	if err != nil {
		return nil, err
	}

	var rollbacks []Deployment
	for _, d := range ledger.Deployments {
		if d.Status == StatusRollback {
			rollbacks = append(rollbacks, d)
		}
	}
	sort.Slice(rollbacks, func(i, j int) bool { return rollbacks[i].ID > rollbacks[j].ID })

	if policy.KeepRollback < 0 {
		policy.KeepRollback = 0
	}
	if len(rollbacks) <= policy.KeepRollback {
		return nil, nil
	}

	var removed []uint64
	for _, d := range rollbacks[policy.KeepRollback:] {
		if err := m.boot.Remove(d.BootEntry); err != nil {
			return nil, err
		}
		ledger.remove(d.ID)
		removed = append(removed, d.ID)
	}

	if err := m.persist(m.path, ledger); err != nil {
		return nil, err
	}
	m.current.Store(ledger)

	if err := m.sweep(ledger); err != nil {
		return removed, err
	}

	slog.Info("deployments pruned", "removed", removed)
	return removed, nil
}

// Sweeps the content store, keeping objects reachable from the ledger.
func (m *Manager) sweep(ledger *Ledger) error {
	roots := make([]digest.Digest, 0, len(ledger.Deployments))
	for _, d := range ledger.Deployments {
		roots = append(roots, d.Root)
	}

	reachable, err := tree.Reachable(m.store, roots...)
	if err != nil {
		return fmt.Errorf("%w: compute reachability: %w", ErrLedger, err)
	}

	if _, err := m.store.Sweep(reachable); err != nil {
		return err
	}
	return nil
}

// Re-hashes every object reachable from every deployment in the ledger.
//
// Returns the first corruption or missing-object error encountered.
func (m *Manager) Fsck(ctx context.Context) error {
	ledger := m.Snapshot()
	for _, d := range ledger.Deployments {
		if err := tree.Check(m.store, d.Root); err != nil {
			return fmt.Errorf("deployment %d: %w", d.ID, err)
		}
	}
	return nil
}

// Drops the deployment with the given ID from the slice.
func (l *Ledger) remove(id uint64) {
	for i := range l.Deployments {
		if l.Deployments[i].ID == id {
			l.Deployments = append(l.Deployments[:i], l.Deployments[i+1:]...)
			return
		}
	}
}
