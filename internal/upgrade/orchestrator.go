package upgrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/resolve"
	"github.com/stratahq/stratad/internal/settings"
	"github.com/stratahq/stratad/internal/tree"
)

// Sequences one upgrade transaction: resolve, import, stage, and
// optionally commit.
//
// The resolver and importer phases leave no durable trace on failure
// beyond unreferenced store objects; the previously booted deployment is
// untouched until the commit phase, whose mutual exclusion and atomicity
// are enforced by the deployment manager.
type Orchestrator struct {
	resolver  *resolve.Resolver
	transport resolve.Transport
	importer  *tree.Importer
	manager   *deploy.Manager
	policy    settings.Upgrade
}

// Controls a single upgrade run.
type Options struct {

	// Image reference to deploy.
	Reference string

	// Whether to commit immediately after staging. When false the
	// deployment is staged for a later explicit commit.
	Activate bool
}

// Outcome of a completed upgrade run.
type Result struct {
	Deployment deploy.Deployment
	State      State
}

// Creates an orchestrator over the given collaborators.
func New(resolver *resolve.Resolver, transport resolve.Transport, importer *tree.Importer, manager *deploy.Manager, policy settings.Upgrade) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		transport: transport,
		importer:  importer,
		manager:   manager,
		policy:    policy,
	}
}

// Runs one upgrade transaction end to end.
//
// Transient resolution failures are retried with bounded exponential
// backoff; all other failures abort immediately. Cancellation via ctx is
// honored during resolution and import. Once the commit phase begins, its
// durable write runs to completion or fails atomically.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	a := &attempt{id: uuid.NewString(), state: StateIdle}

	slog.Info("upgrade started", "tx", a.id, "reference", opts.Reference, "activate", opts.Activate)

	result, err := o.run(ctx, a, opts)
	if err != nil {
		phase := a.state
		a.fail()
		slog.Error("upgrade failed", "tx", a.id, "phase", phase, "error", err)
		return nil, fmt.Errorf("upgrade %s phase: %w", phase, err)
	}

	slog.Info("upgrade finished", "tx", a.id, "deployment", result.Deployment.ID, "state", result.State)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, opts Options) (*Result, error) {
	if err := a.to(StateResolving); err != nil {
		return nil, err
	}
	resolved, err := o.resolveWithRetry(ctx, a, opts.Reference)
	if err != nil {
		return nil, err
	}

	if err := a.to(StateImporting); err != nil {
		return nil, err
	}
	root, err := o.importer.Import(ctx, resolved.Manifest, &layerSource{
		transport: o.transport,
		reference: opts.Reference,
	})
	if err != nil {
		return nil, err
	}

	d, err := o.manager.Stage(ctx, root, deploy.Source{
		Reference: resolved.Reference,
		Digest:    resolved.Digest,
		OSName:    resolved.OSName(),
		OSVersion: resolved.OSVersion(),
	})
	if err != nil {
		return nil, err
	}
	if err := a.to(StateStaged); err != nil {
		return nil, err
	}

	if !opts.Activate {
		return &Result{Deployment: d, State: a.state}, nil
	}

	if err := a.to(StateCommitting); err != nil {
		return nil, err
	}
	if err := o.manager.Commit(ctx, d.ID); err != nil {
		return nil, err
	}
	if err := a.to(StateDone); err != nil {
		return nil, err
	}

	d.Status = deploy.StatusBooted
	return &Result{Deployment: d, State: a.state}, nil
}

// Resolves a reference, retrying transient failures.
//
// Only resolution errors (network, DNS, 5xx) are retried; not-found and
// verification failures surface immediately. Each attempt runs under the
// configured network timeout.
func (o *Orchestrator) resolveWithRetry(ctx context.Context, a *attempt, reference string) (*resolve.Resolved, error) {
	attempts := o.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		resolved, err := o.resolveOnce(ctx, reference)
		if err == nil {
			return resolved, nil
		}
		if !errors.Is(err, resolve.ErrResolution) {
			return nil, err
		}
		lastErr = err

		if i == attempts {
			break
		}

		delay := o.backoff(i)
		slog.Warn("resolution failed, retrying",
			"tx", a.id,
			"attempt", i,
			"of", attempts,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%d attempts: %w", attempts, lastErr)
}

// Runs a single resolution attempt under the network timeout.
func (o *Orchestrator) resolveOnce(ctx context.Context, reference string) (*resolve.Resolved, error) {
	if timeout := time.Duration(o.policy.Timeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.resolver.Resolve(ctx, reference)
}

// Returns the backoff delay before the next attempt.
//
// Doubles per attempt from the configured base, with up to 50% jitter so
// concurrent hosts do not retry in lockstep. The configured maximum bounds
// the total delay, jitter included.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	base := time.Duration(o.policy.Backoff)
	if base <= 0 {
		base = time.Second
	}
	max := time.Duration(o.policy.BackoffMax)
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base << (attempt - 1)
	if delay > max || delay <= 0 {
		delay = max
	}

	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	if delay > max {
		delay = max
	}
	return delay
}

// Adapts the registry transport to the importer's layer source.
type layerSource struct {
	transport resolve.Transport
	reference string
}

func (s *layerSource) Layer(ctx context.Context, desc ocispec.Descriptor) (io.ReadCloser, error) {
	return s.transport.Layer(ctx, s.reference, desc.Digest)
}
