package cli

import (
	"context"
	"fmt"

	"github.com/stratahq/stratad/internal/protocol"
)

// Represents the 'stratad switch' command.
type SwitchCmd struct {
	ID uint64 `arg:"" optional:"" help:"Deployment to switch to. Defaults to the staged deployment."`
}

// Executes the switch command.
func (c *SwitchCmd) Run(ctx context.Context) error {
	raw, err := request(protocol.CmdSwitch, &protocol.SwitchRequest{ID: c.ID})
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.SwitchResult](raw)
	if err != nil {
		return err
	}

	fmt.Printf("deployment #%d is the boot target\n", result.Deployment.ID)
	return nil
}

// Represents the 'stratad rollback' command.
type RollbackCmd struct {
	ID uint64 `arg:"" optional:"" help:"Deployment to roll back to. Defaults to the newest rollback."`
}

// Executes the rollback command.
func (c *RollbackCmd) Run(ctx context.Context) error {
	raw, err := request(protocol.CmdRollback, &protocol.RollbackRequest{ID: c.ID})
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.SwitchResult](raw)
	if err != nil {
		return err
	}

	fmt.Printf("rolled back to deployment #%d\n", result.Deployment.ID)
	return nil
}
