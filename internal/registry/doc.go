// Package registry holds the devices taking part in a load-shed event.
//
// The registry is built once from configuration before the event starts and is
// read-only afterwards, so it may be shared between goroutines without locking.
package registry
