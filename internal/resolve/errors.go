package resolve

import "errors"

var (
	ErrResolution   = errors.New("resolution failed")
	ErrVerification = errors.New("verification failed")
)
