package cli

import (
	"context"
	"fmt"

	"github.com/stratahq/stratad/internal/protocol"
)

// Represents the 'stratad stop' command.
type StopCmd struct{}

// Executes the stop command.
func (c *StopCmd) Run(ctx context.Context) error {
	if _, err := request(protocol.CmdShutdown, nil); err != nil {
		return err
	}

	fmt.Println("daemon stopping")
	return nil
}
