// Package status projects the deployment ledger into the view reported
// over the control socket and printed by the CLI.
package status
