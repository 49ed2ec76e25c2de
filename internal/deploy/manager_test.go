package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stratahq/stratad/internal/store"
	"github.com/stratahq/stratad/internal/tree"
	"github.com/stretchr/testify/require"
)

// Records boot entry operations and optionally injects failures.
type fakeBoot struct {
	created    []string
	pointed    []string
	removed    []string
	failPoint  bool
	failRemove bool
}

func (f *fakeBoot) Create(d Deployment) (string, error) {
	handle := fmt.Sprintf("entry-%d", d.ID)
	f.created = append(f.created, handle)
	return handle, nil
}

func (f *fakeBoot) Point(handle string) error {
	if f.failPoint {
		return errors.New("bootloader unavailable")
	}
	f.pointed = append(f.pointed, handle)
	return nil
}

func (f *fakeBoot) Remove(handle string) error {
	if f.failRemove {
		return errors.New("bootloader unavailable")
	}
	f.removed = append(f.removed, handle)
	return nil
}

type fixture struct {
	manager *Manager
	store   *store.Store
	boot    *fakeBoot
	ledger  string
	lock    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	st, err := store.Open(filepath.Join(base, "objects"))
	require.NoError(t, err)

	boot := &fakeBoot{}
	ledger := filepath.Join(base, "ledger.json")
	lock := filepath.Join(base, "ledger.lock")

	m, err := Open(ledger, lock, st, boot)
	require.NoError(t, err)

	return &fixture{manager: m, store: st, boot: boot, ledger: ledger, lock: lock}
}

// Stores a one-file tree and returns its root digest.
func (fx *fixture) makeTree(t *testing.T, content string) digest.Digest {
	t.Helper()

	fileDgst, err := fx.store.PutBytes([]byte(content))
	require.NoError(t, err)

	dir := tree.Directory{Entries: []tree.Entry{{
		Name:   "os-release",
		Kind:   tree.KindFile,
		Mode:   0644,
		Size:   int64(len(content)),
		Digest: fileDgst,
	}}}
	b, err := dir.Marshal()
	require.NoError(t, err)

	root, err := fx.store.PutBytes(b)
	require.NoError(t, err)
	return root
}

func (fx *fixture) stage(t *testing.T, content string) Deployment {
	t.Helper()
	d, err := fx.manager.Stage(context.Background(), fx.makeTree(t, content), Source{
		Reference: "registry.example/os:" + content,
		Digest:    digest.FromString(content),
	})
	require.NoError(t, err)
	return d
}

func TestStageIsDurable(t *testing.T) {
	fx := newFixture(t)
	d := fx.stage(t, "v1")

	// A fresh manager reading the same ledger file sees the staged
	// deployment: the write was committed before Stage returned.
	reopened, err := Open(fx.ledger, fx.lock, fx.store, fx.boot)
	require.NoError(t, err)

	snap := reopened.Snapshot()
	found := snap.Find(d.ID)
	require.NotNil(t, found)
	require.Equal(t, StatusStaged, found.Status)
	require.Zero(t, snap.Booted, "staging must not change the boot target")
}

func TestCommitAndRollback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	snap := fx.manager.Snapshot()
	require.Equal(t, d1.ID, snap.Booted)
	require.Equal(t, StatusBooted, snap.Find(d1.ID).Status)

	d2 := fx.stage(t, "v2")
	require.NoError(t, fx.manager.Commit(ctx, d2.ID))

	snap = fx.manager.Snapshot()
	require.Equal(t, d2.ID, snap.Booted)
	require.Equal(t, StatusRollback, snap.Find(d1.ID).Status)

	// Roll back: d1 boots again, d2 becomes a rollback candidate.
	require.NoError(t, fx.manager.Rollback(ctx, d1.ID))

	snap = fx.manager.Snapshot()
	require.Equal(t, d1.ID, snap.Booted)
	require.Equal(t, StatusBooted, snap.Find(d1.ID).Status)
	require.Equal(t, StatusRollback, snap.Find(d2.ID).Status)
}

func TestCommitRequiresStagedStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	// Committing an already booted deployment is not a valid transition.
	err := fx.manager.Commit(ctx, d1.ID)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestRollbackToUnknownDeployment(t *testing.T) {
	fx := newFixture(t)

	err := fx.manager.Rollback(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestPointFailureLeavesLedgerIntact(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	d2 := fx.stage(t, "v2")
	fx.boot.failPoint = true

	err := fx.manager.Commit(ctx, d2.ID)
	require.Error(t, err)

	// In memory and on disk, d1 is still the boot target.
	snap := fx.manager.Snapshot()
	require.Equal(t, d1.ID, snap.Booted)

	reopened, err := Open(fx.ledger, fx.lock, fx.store, fx.boot)
	require.NoError(t, err)
	require.Equal(t, d1.ID, reopened.Snapshot().Booted)
}

func TestLoadIgnoresLeftoverTempFile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	// Simulate a crash that left a partially written replacement behind.
	// The rename never happened, so the real ledger must win.
	stale := filepath.Join(filepath.Dir(fx.ledger), ".ledger-crash")
	require.NoError(t, os.WriteFile(stale, []byte(`{"sequence": 42,`), 0644))

	reopened, err := Open(fx.ledger, fx.lock, fx.store, fx.boot)
	require.NoError(t, err)
	require.Equal(t, d1.ID, reopened.Snapshot().Booted)
}

func TestStageSupersedesPreviousStaged(t *testing.T) {
	fx := newFixture(t)

	d1 := fx.stage(t, "v1")
	d2 := fx.stage(t, "v2")

	snap := fx.manager.Snapshot()
	require.Nil(t, snap.Find(d1.ID), "superseded staged deployment should be gone")
	require.NotNil(t, snap.Find(d2.ID))
	require.Contains(t, fx.boot.removed, d1.BootEntry)
}

func TestPruneRetention(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Build history: four commits leave three rollbacks and one booted.
	var ids []uint64
	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		d := fx.stage(t, v)
		require.NoError(t, fx.manager.Commit(ctx, d.ID))
		ids = append(ids, d.ID)
	}
	staged := fx.stage(t, "v5")

	removed, err := fx.manager.Prune(ctx, PrunePolicy{KeepRollback: 1})
	require.NoError(t, err)

	// The two oldest rollbacks go; the newest rollback, the booted and
	// the staged deployment stay.
	require.ElementsMatch(t, []uint64{ids[0], ids[1]}, removed)

	snap := fx.manager.Snapshot()
	require.NotNil(t, snap.Find(ids[3]), "booted deployment pruned")
	require.NotNil(t, snap.Find(ids[2]), "retained rollback pruned")
	require.NotNil(t, snap.Find(staged.ID), "staged deployment pruned")
	require.Nil(t, snap.Find(ids[0]))
	require.Nil(t, snap.Find(ids[1]))

	// Every remaining deployment must still resolve fully from the store.
	for _, d := range snap.Deployments {
		require.NoError(t, tree.Check(fx.store, d.Root))
	}

	// Pruned trees are gone from the store.
	require.Error(t, tree.Check(fx.store, fx.makeTreeDigestFor(t, "v1")))
}

// Returns the root digest the given content would have, without storing it.
func (fx *fixture) makeTreeDigestFor(t *testing.T, content string) digest.Digest {
	t.Helper()

	fileDgst := digest.FromBytes([]byte(content))
	dir := tree.Directory{Entries: []tree.Entry{{
		Name:   "os-release",
		Kind:   tree.KindFile,
		Mode:   0644,
		Size:   int64(len(content)),
		Digest: fileDgst,
	}}}
	b, err := dir.Marshal()
	require.NoError(t, err)
	return digest.FromBytes(b)
}

func TestPruneNothingBeyondPolicy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	removed, err := fx.manager.Prune(ctx, PrunePolicy{KeepRollback: 2})
	require.NoError(t, err)
	require.Empty(t, removed)
}

func TestFsckDetectsCorruption(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))
	require.NoError(t, fx.manager.Fsck(ctx))

	// Corrupt the file object behind the deployment's tree.
	b, err := fx.store.Get(d1.Root)
	require.NoError(t, err)
	dir, err := tree.UnmarshalDirectory(b)
	require.NoError(t, err)
	corruptObject(t, fx.store, dir.Entries[0].Digest)

	err = fx.manager.Fsck(ctx)
	require.ErrorIs(t, err, store.ErrCorruption)
}

// Overwrites a stored object with different bytes, bypassing the store API.
func corruptObject(t *testing.T, st *store.Store, dgst digest.Digest) {
	t.Helper()

	// The store lays objects out as <root>/<alg>/<xx>/<rest>.
	root := storeRoot(t, st, dgst)
	require.NoError(t, os.WriteFile(root, []byte("corrupted bytes"), 0644))
}

func storeRoot(t *testing.T, st *store.Store, dgst digest.Digest) string {
	t.Helper()

	r, err := st.Reader(dgst)
	require.NoError(t, err)
	defer r.Close()

	f, ok := r.(*os.File)
	require.True(t, ok, "store reader should be a file")
	return f.Name()
}

func TestMutationsVisibleAcrossManagers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A second manager on the same ledger file models a second process.
	// It opens before the first manager mutates anything, so its in-memory
	// view is about to go stale.
	m2, err := Open(fx.ledger, fx.lock, fx.store, &fakeBoot{})
	require.NoError(t, err)

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))

	d2, err := m2.Stage(ctx, fx.makeTree(t, "v2"), Source{
		Reference: "registry.example/os:v2",
		Digest:    digest.FromString("v2"),
	})
	require.NoError(t, err)
	require.NotEqual(t, d1.ID, d2.ID, "stale sequence must not reissue an ID")

	// The on-disk ledger holds both the committed boot target and the new
	// staged deployment.
	reopened, err := Open(fx.ledger, fx.lock, fx.store, fx.boot)
	require.NoError(t, err)
	snap := reopened.Snapshot()
	require.Equal(t, d1.ID, snap.Booted)
	require.Equal(t, StatusBooted, snap.Find(d1.ID).Status)
	require.Equal(t, StatusStaged, snap.Find(d2.ID).Status)
}

func TestStageSupersedesDespiteRemoveFailure(t *testing.T) {
	fx := newFixture(t)

	d1 := fx.stage(t, "v1")
	fx.boot.failRemove = true

	// A bootloader that cannot drop the stale entry must not block the
	// new deployment.
	d2 := fx.stage(t, "v2")

	snap := fx.manager.Snapshot()
	require.Nil(t, snap.Find(d1.ID))
	require.NotNil(t, snap.Find(d2.ID))
}

func TestSaveFailureRepointsBootloader(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.stage(t, "v1")
	require.NoError(t, fx.manager.Commit(ctx, d1.ID))
	d2 := fx.stage(t, "v2")

	fx.manager.persist = func(string, *Ledger) error {
		return errors.New("device full")
	}
	err := fx.manager.Commit(ctx, d2.ID)
	require.Error(t, err)

	// The bootloader was pointed at d2 and then back at d1 when the write
	// failed, so disk and bootloader agree again.
	require.Equal(t, d1.BootEntry, fx.boot.pointed[len(fx.boot.pointed)-1])

	reopened, err := Open(fx.ledger, fx.lock, fx.store, fx.boot)
	require.NoError(t, err)
	require.Equal(t, d1.ID, reopened.Snapshot().Booted)
}
