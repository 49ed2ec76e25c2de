package deploy

import "errors"

var (
	ErrLedger      = errors.New("ledger error")
	ErrNotEligible = errors.New("deployment not eligible")
)
