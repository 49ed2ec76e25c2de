package upgrade

import (
	"fmt"
	"log/slog"
)

// Phase of an upgrade transaction.
type State string

const (
	StateIdle       State = "idle"
	StateResolving  State = "resolving"
	StateImporting  State = "importing"
	StateStaged     State = "staged"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Legal transitions between upgrade states.
//
// StateFailed is reachable from every non-terminal state; the terminal
// states (done, failed) have no successors.
var transitions = map[State][]State{
	StateIdle:       {StateResolving, StateFailed},
	StateResolving:  {StateImporting, StateFailed},
	StateImporting:  {StateStaged, StateFailed},
	StateStaged:     {StateCommitting, StateFailed},
	StateCommitting: {StateDone, StateFailed},
}

// One upgrade transaction's identity and current phase.
type attempt struct {
	id    string // Transaction id for log correlation.
	state State
}

// Moves the attempt to the next state.
//
// An illegal transition indicates a bug in the orchestrator's control flow
// and is reported as an error rather than silently accepted.
func (a *attempt) to(next State) error {
	for _, allowed := range transitions[a.state] {
		if allowed == next {
			slog.Debug("upgrade state", "tx", a.id, "from", a.state, "to", next)
			a.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal upgrade transition %s -> %s", a.state, next)
}

// Marks the attempt failed. Valid from every non-terminal state.
func (a *attempt) fail() {
	if a.state != StateDone && a.state != StateFailed {
		slog.Debug("upgrade state", "tx", a.id, "from", a.state, "to", StateFailed)
		a.state = StateFailed
	}
}
