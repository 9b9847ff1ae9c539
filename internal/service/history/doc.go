// Package history prints the events recorded in the journal: one line per
// event with its final status, and optionally every record of one event.
package history
