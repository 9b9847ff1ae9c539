// Package release clears overrides that an earlier event left behind, as
// shown by the event journal. It is the recovery path after a crash or after
// an event finished with release failures.
package release
