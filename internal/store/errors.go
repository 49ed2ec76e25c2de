package store

import "errors"

var (
	ErrStorage    = errors.New("storage error")
	ErrCorruption = errors.New("object corrupted")
)
