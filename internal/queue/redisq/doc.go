// Package redisq is a Redis implementation of the job store.
//
// Each job is a hash under "<prefix>:job:<id>". Runnable jobs sit on the
// per-queue list "<prefix>:wait:<queue>" and retries wait in the sorted set
// "<prefix>:delayed:<queue>" scored by run time in unix milliseconds. The set
// "<prefix>:jobs" indexes every job for listing and recovery.
//
// Submissions go through a MULTI/EXEC pipeline. Claim, complete, retry, fail
// and recover run as Lua scripts so each transition is atomic. Scripts derive
// keys from the prefix, so the store targets a single Redis node.
package redisq
