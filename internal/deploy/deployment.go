package deploy

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Lifecycle status of a deployment.
type Status string

const (

	// Prepared and durable but not yet the boot target.
	StatusStaged Status = "staged"

	// The deployment the system boots into.
	StatusBooted Status = "booted"

	// A previously booted deployment kept as rollback history.
	StatusRollback Status = "rollback"
)

// One OS filesystem snapshot plus its boot entry.
//
// Deployments are immutable once staged, except for their status. They are
// removed only by explicit pruning, never implicitly.
type Deployment struct {
	ID           uint64        `json:"id"`
	Root         digest.Digest `json:"root"`
	Source       string        `json:"source"`
	SourceDigest digest.Digest `json:"source_digest"`
	OSName       string        `json:"os_name,omitempty"`
	OSVersion    string        `json:"os_version,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	BootEntry    string        `json:"boot_entry,omitempty"`
	Status       Status        `json:"status"`
}

// Provenance of a deployment, recorded at staging time.
type Source struct {
	Reference string        // Image reference as requested.
	Digest    digest.Digest // Resolved manifest digest.
	OSName    string        // OS name from image metadata, if any.
	OSVersion string        // OS version from image metadata, if any.
}

// The persisted record of all known deployments.
//
// This is the single source of truth for boot configuration. At most one
// deployment is booted and at most one is staged; Booted and NextBoot are
// deployment IDs, zero meaning none.
type Ledger struct {
	Sequence    uint64       `json:"sequence"`
	Booted      uint64       `json:"booted,omitempty"`
	NextBoot    uint64       `json:"next_boot,omitempty"`
	Deployments []Deployment `json:"deployments"`
}

// Returns the deployment with the given ID, or nil.
func (l *Ledger) Find(id uint64) *Deployment {
	for i := range l.Deployments {
		if l.Deployments[i].ID == id {
			return &l.Deployments[i]
		}
	}
	return nil
}

// Returns the deployment with the given status, or nil.
//
// Meaningful for booted and staged, which the ledger holds at most one of.
func (l *Ledger) ByStatus(status Status) *Deployment {
	for i := range l.Deployments {
		if l.Deployments[i].Status == status {
			return &l.Deployments[i]
		}
	}
	return nil
}

// Returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := *l
	clone.Deployments = make([]Deployment, len(l.Deployments))
	copy(clone.Deployments, l.Deployments)
	return &clone
}
