package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/status"
)

// A command name carried in an envelope.
type Command string

const (

	// Client commands.
	CmdStatus   Command = "status"
	CmdUpgrade  Command = "upgrade"
	CmdSwitch   Command = "switch"
	CmdRollback Command = "rollback"
	CmdPrune    Command = "prune"
	CmdFsck     Command = "fsck"
	CmdShutdown Command = "shutdown"

	// Server responses.
	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wraps every message on the control socket.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Requests an upgrade to the given image reference.
type UpgradeRequest struct {
	Reference string `json:"reference"`

	// Whether to make the deployment the boot target immediately. When
	// false it is staged for a later switch.
	Activate bool `json:"activate,omitempty"`
}

// Result of an upgrade command.
type UpgradeResult struct {
	Deployment deploy.Deployment `json:"deployment"`
	State      string            `json:"state"`
}

// Requests a switch of the boot target to a staged deployment.
type SwitchRequest struct {
	ID uint64 `json:"id"`
}

// Requests a rollback to a previously booted deployment.
type RollbackRequest struct {
	ID uint64 `json:"id"`
}

// Result of a switch or rollback command.
type SwitchResult struct {
	Deployment deploy.Deployment `json:"deployment"`
}

// Requests removal of rollback deployments beyond the retention policy.
type PruneRequest struct {

	// Override for the configured retention count. Nil uses the daemon's
	// configuration.
	KeepRollback *int `json:"keep_rollback,omitempty"`
}

// Result of a prune command.
type PruneResult struct {
	Removed []uint64 `json:"removed"`
}

// Result of a status command.
type StatusResult struct {
	Running  bool          `json:"running"`
	Version  string        `json:"version"`
	Pid      int           `json:"pid"`
	Uptime   string        `json:"uptime"`
	Upgrades int           `json:"upgrades"`
	State    *status.State `json:"state,omitempty"`
}

// Carried by error responses.
type ErrorResult struct {
	Message string `json:"message"`
}

// Encodes a command and payload into a JSON envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", cmd, err)
	}
	return data, nil
}

// Decodes a JSON envelope, returning it and its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("decode envelope: missing command")
	}
	return &env, env.Payload, nil
}

// Decodes an envelope payload into a concrete request or result type.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &v, nil
}
