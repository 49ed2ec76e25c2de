package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/paths"
	"github.com/stratahq/stratad/internal/resolve"
	"github.com/stratahq/stratad/internal/server"
	"github.com/stratahq/stratad/internal/settings"
	"github.com/stratahq/stratad/internal/store"
	"github.com/stratahq/stratad/internal/tree"
	"github.com/stratahq/stratad/internal/upgrade"
)

// Represents the 'stratad start' command.
type StartCmd struct{}

// Executes the start command.
//
// Assembles the engine, starts the control socket server, and blocks until
// the context is cancelled (e.g. via SIGINT or SIGTERM).
func (c *StartCmd) Run(ctx context.Context) error {
	configPath := RootCmd.Config
	if configPath == "" {
		configPath = paths.Config()
	}

	cfg, err := settings.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(paths.State(), paths.DefaultDirMode); err != nil {
		return err
	}

	st, err := store.Open(paths.Objects())
	if err != nil {
		return err
	}

	boot, err := deploy.NewEntryDir(paths.BootEntries())
	if err != nil {
		return err
	}

	manager, err := deploy.Open(paths.Ledger(), paths.LedgerLock(), st, boot)
	if err != nil {
		return err
	}

	// A broken manifest cache only costs registry round trips.
	cache, err := resolve.OpenCache(paths.ManifestCache())
	if err != nil {
		slog.Warn("manifest cache unavailable", "error", err)
		cache = nil
	}

	transport := resolve.NewRegistryTransport(cfg.Registry.Mirrors)
	resolver := resolve.New(transport, cache, cfg.Registry.Allowed)
	orchestrator := upgrade.New(resolver, transport, tree.NewImporter(st), manager, cfg.Upgrade)

	srv := server.New(server.Config{
		SocketPath: RootCmd.Socket,
	}, server.Engine{
		Manager:      manager,
		Orchestrator: orchestrator,
		Settings:     cfg,
	})

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("stratad is running")

	<-ctx.Done()

	slog.Info("shutting down")
	return srv.Stop()
}
