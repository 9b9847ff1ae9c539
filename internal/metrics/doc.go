// Package metrics exposes load-shed progress as Prometheus metrics.
//
// Collectors are registered on a dedicated registry rather than the global
// one, so several orchestrators (tests, dry runs) can coexist in one process.
// All Event methods accept a nil receiver and do nothing, which lets callers
// run without metrics.
package metrics
