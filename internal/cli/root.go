package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/stratahq/stratad/internal"
)

// Represents the root command for the stratad deployment engine.
var RootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Socket  string `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Config  string `short:"c" help:"Override the default configuration file path." placeholder:"PATH"`

	Start    StartCmd    `cmd:"" help:"Start the daemon."`
	Stop     StopCmd     `cmd:"" help:"Stop a running daemon."`
	Status   StatusCmd   `cmd:"" help:"Show daemon and deployment status."`
	Upgrade  UpgradeCmd  `cmd:"" help:"Deploy an OS image."`
	Switch   SwitchCmd   `cmd:"" help:"Make a staged deployment the boot target."`
	Rollback RollbackCmd `cmd:"" help:"Switch back to a previous deployment."`
	Prune    PruneCmd    `cmd:"" help:"Remove old deployments and unreferenced objects."`
	Fsck     FsckCmd     `cmd:"" help:"Verify the integrity of all deployments."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The Strata deployment engine.\n\nDeploys bootable OS images from an OCI registry with atomic upgrade and rollback."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	handler, ok := slog.Default().Handler().(*log.Logger)
	if !ok {
		return // Not a charm handler, nothing to configure
	}

	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	if debug {
		handler.SetLevel(log.DebugLevel)
	} else if quiet {
		handler.SetLevel(log.WarnLevel)
	} else {
		handler.SetLevel(log.InfoLevel)
	}

	handler.SetReportTimestamp(verbose)
	handler.SetReportCaller(debug)
	handler.SetOutput(os.Stderr)
}
