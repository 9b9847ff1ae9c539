// Package orchestrator runs one load-shed event from the first override to the
// last release.
//
// The Orchestrator walks Idle, Starting, Monitoring, Expiring and Finalized.
// Starting reads every device and applies the policy's initial overrides.
// Monitoring repeats cycles of three concurrent activities (poll, evaluate,
// check-expiry) joined before the next cycle begins. The first expiry (or the
// caller cancelling the run) cancels the current cycle, and Finalized releases
// everything still held before shutting the gateway down, exactly once.
//
// Gateway calls never run on a cancelled context: cancellation is observed
// between devices, and a call that has started is allowed to finish within its
// own timeout, so the ledger always matches what the devices were told.
//
// Run in command.go wires configuration, journal, metrics and the gateway
// connection around an Orchestrator for the loadshed run command.
package orchestrator
