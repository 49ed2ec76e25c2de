package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writes boot entries for the host bootloader.
//
// The bootloader's on-disk format is externally owned, so the engine treats
// entries as opaque handles with a small fixed operation set. Create writes
// an entry for a deployment and returns its handle; Point makes a handle the
// default for the next boot; Remove deletes an entry.
type BootManager interface {
	Create(d Deployment) (string, error)
	Point(handle string) error
	Remove(handle string) error
}

// Boot entry file written for each deployment.
type bootEntry struct {
	Title   string `json:"title"`
	Root    string `json:"root"`
	Source  string `json:"source"`
	Version string `json:"version,omitempty"`
}

// Name of the file recording the default boot entry.
const defaultEntryFile = "default"

// A [BootManager] backed by a directory of JSON entry files.
//
// Each deployment gets one entry file named by its handle; the default
// entry is recorded in a separate file pointing at a handle. A bootloader
// integration translates these into its native format.
type entryDir struct {
	dir string
}

// Creates a directory-backed boot manager rooted at dir.
func NewEntryDir(dir string) (BootManager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create boot entry dir: %w", ErrLedger, err)
	}
	return &entryDir{dir: dir}, nil
}

func (e *entryDir) Create(d Deployment) (string, error) {
	handle := fmt.Sprintf("deployment-%d.json", d.ID)

	entry := bootEntry{
		Title:   fmt.Sprintf("%s %s (deployment %d)", d.OSName, d.OSVersion, d.ID),
		Root:    d.Root.String(),
		Source:  d.Source,
		Version: d.OSVersion,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode boot entry: %w", ErrLedger, err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, handle), data, 0644); err != nil {
		return "", fmt.Errorf("%w: write boot entry: %w", ErrLedger, err)
	}

	return handle, nil
}

func (e *entryDir) Point(handle string) error {
	if _, err := os.Stat(filepath.Join(e.dir, handle)); err != nil {
		return fmt.Errorf("%w: boot entry %s: %w", ErrLedger, handle, err)
	}

	// Same write-then-rename discipline as the ledger: the default pointer
	// flips atomically.
	tmp, err := os.CreateTemp(e.dir, ".default-*")
	if err != nil {
		return fmt.Errorf("%w: temp default entry: %w", ErrLedger, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(handle + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write default entry: %w", ErrLedger, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync default entry: %w", ErrLedger, err)
	}
	tmp.Close()

	if err := os.Rename(tmp.Name(), filepath.Join(e.dir, defaultEntryFile)); err != nil {
		return fmt.Errorf("%w: point default entry: %w", ErrLedger, err)
	}
	return nil
}

func (e *entryDir) Remove(handle string) error {
	if err := os.Remove(filepath.Join(e.dir, handle)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove boot entry %s: %w", ErrLedger, handle, err)
	}
	return nil
}
