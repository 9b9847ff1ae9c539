// Package common holds helpers shared by several services.
//
// It provides the gRPC Point Gateway client with per-call timeouts, a guard
// that refuses to start a second event on the same host, and detection of
// the current system actor (hostname/username) for the event journal.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
