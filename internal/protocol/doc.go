// Package protocol defines the newline-delimited JSON messages exchanged
// over the daemon's control socket.
//
// Every message is an [Envelope] naming a command and carrying an optional
// payload. The client sends one request per connection and reads one
// response, either [CmdOK] with a command-specific result or [CmdError]
// with an [ErrorResult].
package protocol
