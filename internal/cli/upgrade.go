package cli

import (
	"context"
	"fmt"

	"github.com/stratahq/stratad/internal/protocol"
)

// Represents the 'stratad upgrade' command.
type UpgradeCmd struct {
	Reference string `arg:"" help:"OCI image reference to deploy." placeholder:"REFERENCE"`
	Activate  bool   `short:"a" help:"Make the deployment the boot target immediately."`
}

// Executes the upgrade command.
//
// The daemon runs the transaction; this command blocks until it finishes.
// Closing the connection (e.g. Ctrl-C) cancels an upgrade that has not
// reached its commit phase.
func (c *UpgradeCmd) Run(ctx context.Context) error {
	raw, err := request(protocol.CmdUpgrade, &protocol.UpgradeRequest{
		Reference: c.Reference,
		Activate:  c.Activate,
	})
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.UpgradeResult](raw)
	if err != nil {
		return err
	}

	d := result.Deployment
	fmt.Printf("deployment #%d %s (%s)\n", d.ID, d.Status, d.Root)
	if !c.Activate {
		fmt.Println("run 'stratad switch' to make it the boot target")
	}
	return nil
}
