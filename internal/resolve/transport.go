package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"
)

// What a registry knows about an image: its manifest digest, the raw
// manifest bytes, and the labels from its config.
type Description struct {
	Digest   digest.Digest     `json:"digest"`
	Manifest []byte            `json:"manifest"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Read-only access to an image registry.
//
// The engine never speaks the registry protocol itself; everything it needs
// from the network comes through this interface. Implementations must not
// touch local persistent state.
type Transport interface {

	// Fetches the manifest and config labels for a reference.
	Describe(ctx context.Context, ref string) (*Description, error)

	// Opens the uncompressed tar stream for one layer of the referenced
	// image.
	Layer(ctx context.Context, ref string, dgst digest.Digest) (io.ReadCloser, error)
}

// A [Transport] backed by an OCI registry.
//
// Mirror configuration rewrites registry hosts before any network contact,
// so a reference to docker.io can be served from an internal mirror without
// the caller knowing.
type registryTransport struct {
	mirrors map[string]string
}

// Creates a registry transport with the given host mirror map.
func NewRegistryTransport(mirrors map[string]string) Transport {
	return &registryTransport{mirrors: mirrors}
}

func (t *registryTransport) Describe(ctx context.Context, ref string) (*Description, error) {
	img, err := t.image(ctx, ref)
	if err != nil {
		return nil, err
	}

	raw, err := img.RawManifest()
	if err != nil {
		return nil, fmt.Errorf("%w: manifest for %s: %w", ErrResolution, ref, err)
	}

	h, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: digest for %s: %w", ErrResolution, ref, err)
	}

	desc := &Description{
		Digest:   digest.Digest(h.String()),
		Manifest: raw,
	}

	// Config labels are advisory metadata; an image without a readable
	// config is still importable.
	if cfg, err := img.ConfigFile(); err == nil && cfg != nil {
		desc.Labels = cfg.Config.Labels
	}

	return desc, nil
}

func (t *registryTransport) Layer(ctx context.Context, ref string, dgst digest.Digest) (io.ReadCloser, error) {
	img, err := t.image(ctx, ref)
	if err != nil {
		return nil, err
	}

	h, err := v1.NewHash(dgst.String())
	if err != nil {
		return nil, fmt.Errorf("%w: layer digest %s: %w", ErrResolution, dgst, err)
	}

	layer, err := img.LayerByDigest(h)
	if err != nil {
		return nil, classify(fmt.Errorf("layer %s of %s", dgst, ref), err)
	}

	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, classify(fmt.Errorf("layer %s of %s", dgst, ref), err)
	}
	return rc, nil
}

// Resolves a reference to a platform image via the registry.
func (t *registryTransport) image(ctx context.Context, ref string) (v1.Image, error) {
	parsed, err := name.ParseReference(t.rewrite(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: parse reference %q: %w", ErrResolution, ref, err)
	}

	img, err := remote.Image(parsed, remote.WithContext(ctx))
	if err != nil {
		return nil, classify(fmt.Errorf("fetch %s", ref), err)
	}
	return img, nil
}

// Applies the mirror map to a reference's registry host.
func (t *registryTransport) rewrite(ref string) string {
	host, rest, ok := strings.Cut(ref, "/")
	if !ok {
		return ref
	}
	if mirror, found := t.mirrors[host]; found {
		return mirror + "/" + rest
	}
	return ref
}

// Maps a registry error onto the engine's error taxonomy.
//
// Missing references and blobs become not-found errors; everything else
// (DNS, TLS, timeouts, 5xx) is a transient resolution failure that the
// orchestrator may retry.
func classify(what error, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", what, errdefs.ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", ErrVerification, what, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrResolution, what, err)
}
