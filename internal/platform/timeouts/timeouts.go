// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between callers and makes the
// durations discoverable.
package timeouts

import "time"

// CounterLockWait caps how long an ID range reservation waits for the
// namespace lock before failing.
const CounterLockWait = 5 * time.Second

// CounterLockLease bounds how long a held counter lock blocks other
// processes when its holder dies without releasing it.
const CounterLockLease = 30 * time.Second

// Command caps a single operator CLI invocation.
const Command = 30 * time.Second

// Shutdown limits how long telemetry flushing may take on exit.
const Shutdown = 5 * time.Second
