// Package worker drains the job store with one lane per registry queue.
//
// Each lane bounds in-flight jobs with a weighted semaphore sized to the
// queue's concurrency and paces handler starts with a token-bucket limiter
// derived from the queue's rate limit. Failed jobs are retried with the
// job's backoff until its attempts are exhausted; errors wrapped with
// Unrecoverable fail on the first attempt.
//
// Lifecycle transitions (active, completed, failed) are published as Event
// values on the channel returned by Events. The channel is closed by Stop
// once every lane and in-flight job has returned, so a consumer ranging over
// it terminates cleanly.
package worker
