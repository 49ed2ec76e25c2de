package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image config labels consulted for deployment metadata.
const (
	labelOSName    = "org.opencontainers.image.title"
	labelOSVersion = "org.opencontainers.image.version"
)

// The outcome of resolving an image reference.
type Resolved struct {
	Reference string            // Reference as requested.
	Digest    digest.Digest     // Manifest digest.
	Manifest  ocispec.Manifest  // Decoded manifest.
	Labels    map[string]string // Image config labels.
}

// Returns the OS name declared in the image labels, if any.
func (r *Resolved) OSName() string {
	return r.Labels[labelOSName]
}

// Returns the OS version declared in the image labels, if any.
func (r *Resolved) OSVersion() string {
	return r.Labels[labelOSVersion]
}

// Resolves image references to concrete digests and manifests.
//
// Resolution is purely read-through: it mutates nothing but its own cache.
// References pinned to a digest are served from the cache without any
// network contact when possible.
type Resolver struct {
	transport Transport
	cache     *Cache   // Optional; nil disables caching.
	allowed   []string // Registry allowlist; empty allows all.
}

// Creates a resolver over the given transport.
func New(transport Transport, cache *Cache, allowed []string) *Resolver {
	return &Resolver{
		transport: transport,
		cache:     cache,
		allowed:   allowed,
	}
}

// Resolves a reference to its manifest digest and decoded manifest.
//
// The pull policy is checked before any network contact. For digest-pinned
// references a cache hit bypasses the registry entirely; the cached
// manifest was verified against its digest when stored and is re-verified
// on read.
func (r *Resolver) Resolve(ctx context.Context, reference string) (*Resolved, error) {
	if err := r.checkPolicy(reference); err != nil {
		return nil, err
	}

	if pinned, ok := pinnedDigest(reference); ok && r.cache != nil {
		if desc, hit := r.cache.Get(pinned); hit {
			slog.Debug("manifest cache hit", "reference", reference, "digest", pinned)
			return r.decode(reference, desc)
		}
	}

	desc, err := r.transport.Describe(ctx, reference)
	if err != nil {
		return nil, err
	}

	// The transport reports the digest it verified; recompute it locally
	// so a misbehaving registry cannot hand us mismatched content.
	if actual := digest.FromBytes(desc.Manifest); actual != desc.Digest {
		return nil, fmt.Errorf("%w: manifest for %s hashes to %s, registry claims %s",
			ErrVerification, reference, actual, desc.Digest)
	}

	if pinned, ok := pinnedDigest(reference); ok && pinned != desc.Digest {
		return nil, fmt.Errorf("%w: reference pins %s but registry served %s",
			ErrVerification, pinned, desc.Digest)
	}

	if r.cache != nil {
		r.cache.Put(desc)
	}

	slog.Debug("reference resolved", "reference", reference, "digest", desc.Digest)
	return r.decode(reference, desc)
}

// Decodes a description into a resolved image.
func (r *Resolver) decode(reference string, desc *Description) (*Resolved, error) {
	var manifest ocispec.Manifest
	if err := json.Unmarshal(desc.Manifest, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decode manifest for %s: %w", ErrResolution, reference, err)
	}

	return &Resolved{
		Reference: reference,
		Digest:    desc.Digest,
		Manifest:  manifest,
		Labels:    desc.Labels,
	}, nil
}

// Enforces the registry allowlist.
func (r *Resolver) checkPolicy(reference string) error {
	if len(r.allowed) == 0 {
		return nil
	}

	host, _, _ := strings.Cut(reference, "/")
	for _, allowed := range r.allowed {
		if host == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: registry %s not in pull policy", ErrVerification, host)
}

// Extracts the digest from a digest-pinned reference.
func pinnedDigest(reference string) (digest.Digest, bool) {
	_, raw, ok := strings.Cut(reference, "@")
	if !ok {
		return "", false
	}
	dgst := digest.Digest(raw)
	if err := dgst.Validate(); err != nil {
		return "", false
	}
	return dgst, true
}
