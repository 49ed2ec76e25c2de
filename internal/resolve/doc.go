// Package resolve turns image references into concrete digests and
// manifests.
//
// A [Resolver] wraps a [Transport], the engine's only window onto image
// registries. Resolution enforces the configured pull policy, verifies
// that served manifests hash to their claimed digest, and maintains a
// digest-keyed cache so digest-pinned references resolve without network
// contact. Nothing in this package writes to the engine's durable state.
package resolve
