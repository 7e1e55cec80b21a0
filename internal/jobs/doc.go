// Package jobs defines the wire contract that crosses the scheduler/worker
// boundary: the cell and row-completion payloads, job names, retry options,
// and the Flow tree accepted by bulk submission.
//
// Payloads are constructed once with every identifier lowercased and are
// treated as read-only afterwards.
package jobs
