// Package terminal implements the terminal session manager.
//
// A Session owns one spawned process and its PTY master. Output read
// from the PTY is fanned out to every attached gateway; input from any
// gateway is serialized through a single ordered queue, like a physical
// shared terminal. The Registry is the process-wide owner of all
// sessions: creation, lookup, listing, termination, and garbage
// collection of terminated sessions.
//
// Sandboxed sessions wrap the target command with bwrap on Linux or
// sandbox-exec on macOS before the PTY adapter execs it. Both paths
// produce the same LaunchPlan, so sessions are indifferent to which one
// spawned their process.
//
// Lifecycle:
//
//	Create  -> Starting -> Running -> Terminated -> Reap
//
// Terminated sessions stay queryable (for the exit code) until an
// explicit reap or the retention window elapses.
package terminal
