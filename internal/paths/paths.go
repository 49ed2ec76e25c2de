package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "stratad"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for durable engine state.
//
//	Linux:   $XDG_STATE_HOME/stratad or ~/.local/state/stratad
//	macOS:   ~/Library/Application Support/stratad
func State() string {
	return filepath.Join(xdg.StateHome, daemonName)
}

// Path to the content store object directory.
func Objects() string {
	return filepath.Join(State(), "objects")
}

// Path to the deployment ledger file.
func Ledger() string {
	return filepath.Join(State(), "ledger.json")
}

// Path to the lock file guarding ledger mutations.
func LedgerLock() string {
	return filepath.Join(State(), "ledger.lock")
}

// Path to the directory holding boot entry files.
func BootEntries() string {
	return filepath.Join(State(), "boot")
}

// Path to the resolver's manifest cache directory.
//
//	Linux:   $XDG_CACHE_HOME/stratad/manifests
//	macOS:   ~/Library/Caches/stratad/manifests
func ManifestCache() string {
	return filepath.Join(xdg.CacheHome, daemonName, "manifests")
}

// Default path to the engine configuration file.
//
//	Linux:   $XDG_CONFIG_HOME/stratad/config.yaml
//	macOS:   ~/Library/Application Support/stratad/config.yaml
func Config() string {
	return filepath.Join(xdg.ConfigHome, daemonName, "config.yaml")
}

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/stratad or /run/user/<uid>/stratad
//	macOS:   ~/Library/Caches/stratad/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Default path to the Unix domain socket for CLI-to-daemon communication.
func Socket() string {
	return filepath.Join(Runtime(), daemonName+".sock")
}

// Default path to the PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), daemonName+".pid")
}
