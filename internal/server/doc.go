// Package server implements the stratad daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the stratad CLI. Each connection carries a single request-response
// exchange: the client sends a newline-delimited JSON envelope, the
// server dispatches the command, and writes the result back before
// closing the connection.
//
// Supported commands include upgrading to an image reference, switching
// and rolling back the boot target, pruning old deployments, verifying
// store integrity, querying daemon status, and initiating shutdown.
// Upgrade commands are delegated to the upgrade package; ledger
// mutations go through the deploy package.
//
// Example usage:
//
//	srv := server.New(server.Config{}, server.Engine{
//	    Manager:      manager,
//	    Orchestrator: orchestrator,
//	    Settings:     cfg,
//	})
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
