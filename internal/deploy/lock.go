package deploy

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// An exclusive advisory lock on the ledger lock file.
//
// The flock serializes ledger mutations across processes on the same host;
// the manager's in-process mutex serializes goroutines within one process.
type fileLock struct {
	f *os.File
}

// Acquires the lock, blocking until it is available.
func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %w", ErrLedger, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: acquire ledger lock: %w", ErrLedger, err)
	}

	return &fileLock{f: f}, nil
}

// Releases the lock.
func (l *fileLock) release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
