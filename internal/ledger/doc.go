// Package ledger records the overrides currently held on remote points.
//
// The ledger is the source of truth for what must be released when an event
// ends. It holds at most one override per device and role.
package ledger
