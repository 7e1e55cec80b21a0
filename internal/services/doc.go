// Package services defines shared utilities consumed by the job handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, queue names, workflow IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures keep a
//     consistent classification from the handler up to the worker logs.
//
// Use these helpers when wiring new handler logic so operational behaviour
// (error handling, observability) stays uniform across queues.
package services
