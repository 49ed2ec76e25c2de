// Package upgrade sequences a full upgrade transaction over the resolve,
// tree, and deploy packages.
//
// A run moves through an explicit state machine: idle, resolving,
// importing, staged, and, when activation is requested, committing and
// done. Failures from any phase land in the failed terminal state and the
// previously booted deployment stays untouched. Transient resolution
// failures are retried with bounded exponential backoff; every run carries
// a transaction id that tags its log records.
//
// Example usage:
//
//	orch := upgrade.New(resolver, transport, importer, manager, cfg.Upgrade)
//	result, err := orch.Run(ctx, upgrade.Options{
//		Reference: "registry.example.com/os/base:42",
//		Activate:  true,
//	})
package upgrade
