package status

import (
	"sort"

	"github.com/stratahq/stratad/internal/deploy"
)

// Read-only view of the deployment state, shaped for presentation.
//
// Rollback history is ordered newest first. The view is a snapshot; it
// does not change after construction.
type State struct {
	Booted   *deploy.Deployment  `json:"booted,omitempty"`
	Staged   *deploy.Deployment  `json:"staged,omitempty"`
	Rollback []deploy.Deployment `json:"rollback,omitempty"`
	NextBoot uint64              `json:"next_boot,omitempty"`
}

// Projects the ledger into a presentation view.
func Project(ledger *deploy.Ledger) *State {
	s := &State{NextBoot: ledger.NextBoot}

	for i := range ledger.Deployments {
		d := ledger.Deployments[i]
		switch d.Status {
		case deploy.StatusBooted:
			s.Booted = &d
		case deploy.StatusStaged:
			s.Staged = &d
		case deploy.StatusRollback:
			s.Rollback = append(s.Rollback, d)
		}
	}

	sort.Slice(s.Rollback, func(i, j int) bool { return s.Rollback[i].ID > s.Rollback[j].ID })
	return s
}
