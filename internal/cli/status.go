package cli

import (
	"context"
	"fmt"

	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/protocol"
)

// Represents the 'stratad status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	raw, err := request(protocol.CmdStatus, nil)
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.StatusResult](raw)
	if err != nil {
		return err
	}

	fmt.Printf("daemon: running (pid %d, uptime %s, version %s)\n", result.Pid, result.Uptime, result.Version)

	if result.State == nil {
		return nil
	}

	printDeployment("booted", result.State.Booted)
	printDeployment("staged", result.State.Staged)
	for i := range result.State.Rollback {
		printDeployment("rollback", &result.State.Rollback[i])
	}

	return nil
}

// Prints one deployment line, or nothing for a nil deployment.
func printDeployment(label string, d *deploy.Deployment) {
	if d == nil {
		return
	}

	os := d.OSName
	if d.OSVersion != "" {
		os += " " + d.OSVersion
	}
	if os == "" {
		os = "unknown"
	}

	fmt.Printf("%-9s #%d  %s (%s)\n", label, d.ID, d.Source, os)
}
