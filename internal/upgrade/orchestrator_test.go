package upgrade

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/resolve"
	"github.com/stratahq/stratad/internal/settings"
	"github.com/stratahq/stratad/internal/store"
	"github.com/stratahq/stratad/internal/tree"
	"github.com/stretchr/testify/require"
)

// Serves one image from memory with configurable failure injection.
type fakeTransport struct {
	manifest []byte
	labels   map[string]string
	layers   map[digest.Digest][]byte

	describes int

	// Number of initial Describe calls that fail transiently.
	transient int

	// Permanent Describe error, returned on every call when set.
	describeErr error
}

func (f *fakeTransport) Describe(ctx context.Context, ref string) (*resolve.Description, error) {
	f.describes++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if f.describes <= f.transient {
		return nil, fmt.Errorf("%w: dial tcp: connection refused", resolve.ErrResolution)
	}
	return &resolve.Description{
		Digest:   digest.FromBytes(f.manifest),
		Manifest: f.manifest,
		Labels:   f.labels,
	}, nil
}

func (f *fakeTransport) Layer(ctx context.Context, ref string, dgst digest.Digest) (io.ReadCloser, error) {
	l, ok := f.layers[dgst]
	if !ok {
		return nil, fmt.Errorf("layer %s: %w", dgst, errdefs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(l)), nil
}

// Builds a single-layer image carrying an os-release with the given version.
func testImage(t *testing.T, version string) ([]byte, map[digest.Digest][]byte) {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range []struct {
		name, content string
		typeflag      byte
	}{
		{name: "etc", typeflag: tar.TypeDir},
		{name: "etc/os-release", content: "NAME=strataos\nVERSION=" + version + "\n", typeflag: tar.TypeReg},
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     0644,
			Size:     int64(len(e.content)),
		}))
		if e.content != "" {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	layer := buf.Bytes()
	dgst := digest.FromBytes(layer)

	raw, err := json.Marshal(ocispec.Manifest{
		Layers: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageLayer,
			Digest:    dgst,
			Size:      int64(len(layer)),
		}},
	})
	require.NoError(t, err)

	return raw, map[digest.Digest][]byte{dgst: layer}
}

func newTransport(t *testing.T, version string) *fakeTransport {
	t.Helper()
	raw, layers := testImage(t, version)
	return &fakeTransport{
		manifest: raw,
		layers:   layers,
		labels: map[string]string{
			"org.opencontainers.image.title":   "strataos",
			"org.opencontainers.image.version": version,
		},
	}
}

type fixture struct {
	orch    *Orchestrator
	manager *deploy.Manager
	store   *store.Store
}

func newFixture(t *testing.T, ft *fakeTransport) *fixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	boot, err := deploy.NewEntryDir(filepath.Join(dir, "entries"))
	require.NoError(t, err)

	mgr, err := deploy.Open(filepath.Join(dir, "ledger.json"), filepath.Join(dir, "ledger.lock"), st, boot)
	require.NoError(t, err)

	policy := settings.Upgrade{
		MaxAttempts: 3,
		Backoff:     settings.Duration(time.Millisecond),
		BackoffMax:  settings.Duration(4 * time.Millisecond),
		Timeout:     settings.Duration(time.Second),
	}

	return &fixture{
		orch:    New(resolve.New(ft, nil, nil), ft, tree.NewImporter(st), mgr, policy),
		manager: mgr,
		store:   st,
	}
}

func TestRunStagesDeployment(t *testing.T) {
	ft := newTransport(t, "41")
	f := newFixture(t, ft)

	result, err := f.orch.Run(context.Background(), Options{Reference: "registry.example.com/os/base:41"})
	require.NoError(t, err)
	require.Equal(t, StateStaged, result.State)

	ledger := f.manager.Snapshot()
	d := ledger.Find(result.Deployment.ID)
	require.NotNil(t, d)
	require.Equal(t, deploy.StatusStaged, d.Status)
	require.Equal(t, "strataos", d.OSName)
	require.Equal(t, "41", d.OSVersion)
	require.Zero(t, ledger.Booted)

	require.NoError(t, tree.Check(f.store, d.Root))
}

func TestRunActivates(t *testing.T) {
	ft := newTransport(t, "41")
	f := newFixture(t, ft)

	result, err := f.orch.Run(context.Background(), Options{
		Reference: "registry.example.com/os/base:41",
		Activate:  true,
	})
	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)

	ledger := f.manager.Snapshot()
	require.Equal(t, result.Deployment.ID, ledger.Booted)
	require.Equal(t, deploy.StatusBooted, ledger.Find(result.Deployment.ID).Status)
}

func TestRunRetriesTransientResolution(t *testing.T) {
	ft := newTransport(t, "41")
	ft.transient = 2
	f := newFixture(t, ft)

	_, err := f.orch.Run(context.Background(), Options{Reference: "registry.example.com/os/base:41"})
	require.NoError(t, err)
	require.Equal(t, 3, ft.describes)
}

func TestRunExhaustsAttempts(t *testing.T) {
	ft := newTransport(t, "41")
	ft.transient = 10
	f := newFixture(t, ft)

	_, err := f.orch.Run(context.Background(), Options{Reference: "registry.example.com/os/base:41"})
	require.ErrorIs(t, err, resolve.ErrResolution)
	require.Equal(t, 3, ft.describes)

	require.Empty(t, f.manager.Snapshot().Deployments)
}

func TestRunDoesNotRetryNotFound(t *testing.T) {
	ft := newTransport(t, "41")
	ft.describeErr = fmt.Errorf("fetch: %w", errdefs.ErrNotFound)
	f := newFixture(t, ft)

	_, err := f.orch.Run(context.Background(), Options{Reference: "registry.example.com/os/missing:41"})
	require.Error(t, err)
	require.True(t, errdefs.IsNotFound(err))
	require.Equal(t, 1, ft.describes)
}

func TestRunFailureKeepsBootedDeployment(t *testing.T) {
	ft := newTransport(t, "41")
	f := newFixture(t, ft)

	result, err := f.orch.Run(context.Background(), Options{
		Reference: "registry.example.com/os/base:41",
		Activate:  true,
	})
	require.NoError(t, err)

	// Next image references a layer the registry cannot serve; the import
	// phase fails after resolution succeeds.
	raw, err := json.Marshal(ocispec.Manifest{
		Layers: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageLayer,
			Digest:    digest.FromString("gone"),
		}},
	})
	require.NoError(t, err)
	ft.manifest = raw
	ft.describes = 0

	_, err = f.orch.Run(context.Background(), Options{
		Reference: "registry.example.com/os/base:42",
		Activate:  true,
	})
	require.Error(t, err)

	ledger := f.manager.Snapshot()
	require.Equal(t, result.Deployment.ID, ledger.Booted)
	require.Len(t, ledger.Deployments, 1)
	require.NoError(t, tree.Check(f.store, ledger.Deployments[0].Root))
}

func TestRunHonorsCancellation(t *testing.T) {
	ft := newTransport(t, "41")
	ft.transient = 10
	f := newFixture(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Run(ctx, Options{Reference: "registry.example.com/os/base:41"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffNeverExceedsMaximum(t *testing.T) {
	o := &Orchestrator{policy: settings.Upgrade{
		Backoff:    settings.Duration(time.Second),
		BackoffMax: settings.Duration(4 * time.Second),
	}}

	// Jitter is random, so sample each attempt number repeatedly. Late
	// attempts saturate the cap and must not overshoot it.
	for attempt := 1; attempt <= 12; attempt++ {
		for i := 0; i < 64; i++ {
			d := o.backoff(attempt)
			require.Greater(t, d, time.Duration(0))
			require.LessOrEqual(t, d, 4*time.Second)
		}
	}
}
