// Package gateway defines the contract between the orchestrator and whatever
// actually talks to building controllers.
//
// Implementations live elsewhere: sim is an in-memory priority-array
// simulator, and the gRPC client in service/common talks to a remote gateway.
package gateway
