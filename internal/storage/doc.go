// Package storage persists the small amount of state cocoview keeps across
// runs: UI preferences (last active view) and an audit trail of control
// commands sent to the scheduler. Telemetry is never stored.
package storage
