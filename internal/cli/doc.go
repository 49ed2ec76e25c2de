// Package cli parses flags and dispatches stratad commands.
//
// The 'start' command runs the daemon; every other command is a thin
// client that connects to a running daemon over its Unix socket and
// performs one request-response exchange.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path.
//	-c, --config    Configuration file path.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity.
package cli
