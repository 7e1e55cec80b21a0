// Package daemon coordinates the long-running cellflow process.
//
// Open wires configuration into the shared collaborators: the job store
// (sqlite or redis), the workflow repository (postgres or in-memory), the
// queue registry, the graph compiler, and the notifier. One-shot CLI commands
// use those collaborators directly; New layers the worker manager, cell
// processor, row handler, and status propagator on top and runs them under a
// flock-based single-instance lock.
//
// Keep orchestration logic here: individual job semantics live in their
// respective packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
