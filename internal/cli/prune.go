package cli

import (
	"context"
	"fmt"

	"github.com/stratahq/stratad/internal/protocol"
)

// Represents the 'stratad prune' command.
type PruneCmd struct {
	Keep int `default:"-1" help:"Number of rollback deployments to keep. Defaults to the daemon's configuration."`
}

// Executes the prune command.
func (c *PruneCmd) Run(ctx context.Context) error {
	req := &protocol.PruneRequest{}
	if c.Keep >= 0 {
		req.KeepRollback = &c.Keep
	}

	raw, err := request(protocol.CmdPrune, req)
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.PruneResult](raw)
	if err != nil {
		return err
	}

	if len(result.Removed) == 0 {
		fmt.Println("nothing to prune")
		return nil
	}

	for _, id := range result.Removed {
		fmt.Printf("removed deployment #%d\n", id)
	}
	return nil
}

// Represents the 'stratad fsck' command.
type FsckCmd struct{}

// Executes the fsck command.
func (c *FsckCmd) Run(ctx context.Context) error {
	if _, err := request(protocol.CmdFsck, nil); err != nil {
		return err
	}

	fmt.Println("all deployments verified")
	return nil
}
