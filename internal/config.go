package internal

import (
	"strconv"
	"sync/atomic"
)

// Log modes for the engine and its CLI front end.
//
// Defaults are baked in at build time via ldflags and overridden once flag
// parsing has run. Atomics because the daemon's handler goroutines read the
// modes while the CLI may still be applying overrides.
var (
	quietMode   atomic.Bool
	debugMode   atomic.Bool
	verboseMode atomic.Bool
)

// Seeds the modes from the raw linker-flag values.
func init() {
	quietMode.Store(parseMode(rawQuiet))
	debugMode.Store(parseMode(rawDebug))
	verboseMode.Store(parseMode(rawVerbose))
}

// An unset or malformed linker-flag value means the mode is off.
func parseMode(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

// Enables or disables quiet mode, which limits output to warnings and errors.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Reports whether quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug logging.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Reports whether debug logging is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose logging.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Reports whether verbose logging is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}
