package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/stratahq/stratad/internal/paths"
	"github.com/stratahq/stratad/internal/protocol"
)

// How long to wait for the daemon to accept a connection.
const dialTimeout = 5 * time.Second

// Performs one request-response exchange with the daemon.
//
// Dials the control socket, sends the command, and returns the raw payload
// of the response. Error responses from the daemon come back as errors.
// There is no read deadline: commands like upgrade run for as long as the
// transaction takes.
func request(cmd protocol.Command, payload any) (json.RawMessage, error) {
	socketPath := RootCmd.Socket
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("cannot reach the daemon at %s (is it running?): %w", socketPath, err)
	}
	defer conn.Close()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", cmd, err)
	}

	env, raw, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}

	if env.Command == protocol.CmdError {
		result, err := protocol.DecodePayload[protocol.ErrorResult](raw)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(result.Message)
	}

	return raw, nil
}
