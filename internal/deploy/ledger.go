package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Loads the ledger from disk.
//
// A missing file yields an empty ledger: the pre-commit initial state with
// no deployments.
func loadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{}, nil
		}
		return nil, fmt.Errorf("%w: read ledger: %w", ErrLedger, err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: decode ledger: %w", ErrLedger, err)
	}
	return &l, nil
}

// Persists the ledger with all-or-nothing visibility.
//
// The new content is written to a temporary file in the same directory,
// flushed to stable storage, and renamed over the old file. rename(2) is
// atomic within a filesystem, so a reader (or a crash at any point) observes
// either the old ledger or the new one, never a mix. The containing
// directory is synced afterwards so the rename itself survives power loss.
func saveLedger(path string, l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %w", ErrLedger, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("%w: temp ledger: %w", ErrLedger, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write ledger: %w", ErrLedger, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync ledger: %w", ErrLedger, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close ledger: %w", ErrLedger, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replace ledger: %w", ErrLedger, err)
	}

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: sync ledger dir: %w", ErrLedger, err)
	}
	return nil
}

// Flushes directory metadata so a completed rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
