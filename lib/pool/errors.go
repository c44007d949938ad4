package pool

import "errors"

// ErrNoWarmVMAvailable is returned by Attach when no warm VM matches the
// spec's fingerprint. Recoverable: the reconciler retries on the next
// tick.
var ErrNoWarmVMAvailable = errors.New("pool: no warm vm available")

// ErrUnknownJob is returned when an operation references a job_id the
// Desired State Store has no record of.
var ErrUnknownJob = errors.New("pool: unknown job")
