// Command cellflow runs and inspects the workflow execution engine.
//
// serve starts the worker pools and status propagation under a single-instance
// lock. execute and plan compile workflows from the configured repository;
// execute submits the flows straight to the job store, where a running serve
// process claims them. jobs and queues inspect the store and the queue
// registry, and config manages the TOML configuration file.
package main
