// Package scheduler is the entry point for running workflows. It loads a
// workflow from the repository, compiles it into row chains and submits the
// whole forest to the queue backend in one call. It returns as soon as the
// backend accepts the jobs.
package scheduler
