// Package simulator serves the Point Gateway gRPC API from the in-memory
// priority-array simulator, persisting every change to a state file so a
// restarted simulator still shows what an interrupted event left overridden.
//
// A client's Shutdown ends that client's session only; the server keeps
// serving other clients until its context is cancelled.
package simulator
