// Package agentterm tracks the console's view of interactive shell sessions
// running on remote agents.
//
// A [Session] is the console-side record of one shell: the agent owns the
// actual pty. The [Registry] maps session ids to sessions, turns UI actions
// into shell_command frames on the per-server WebSocket, and receives the
// agent's shell_response / shell_error / shell_close frames back from the
// frame router.
//
// # Lifecycle
//
//  1. [Registry.Open] registers the session (connected=false) and sends a
//     create command with the initial dimensions and working directory.
//  2. The first shell_response from the agent confirms the shell is live and
//     flips connected=true.
//  3. [Registry.Close] sends a kill command, removes the session, and
//     invalidates its output callback so late frames for the id are dropped.
//
// Resize events are debounced: a drag-resize produces a burst of dimension
// changes, and only the last value within the debounce window goes over the
// wire. Input and output are not buffered here; the connection manager queues
// outbound frames while the link is down, and output goes straight to the
// session's callback.
//
// Registry operations log at the [terminal] prefix.
package agentterm
