// Package job defines the download job aggregate: the principal
// persistent entity of the control plane.
//
// A Job carries both domain attributes (source URL, requested encoding,
// progress, resulting artifact reference) and the delivery/scheduling
// metadata needed to drive it through the worker dispatch queue
// (Attempts, LockedUntil, NextRunAt). The two concerns live on one type
// because a single Redis-backed record is both the job's business state
// and the FIFO queue's lease record for that job.
//
// Job values returned by repository and queue operations are snapshots.
// Mutating a Job value directly does not change stored state; all
// transitions go through jobmanager or queue operations that enforce
// the state machine described in job/status.go.
package job
