// Package shed contains the core domain types of a load-shed event.
//
// It defines Device (a remote controller and its writable points), Value (an
// analog or binary present value), Override (a value held at a write priority),
// Reading, Action (a policy decision), Event (the lifecycle flags of one run)
// and Report (the caller-visible outcome). Clone helpers avoid leaking internal
// references between the orchestrator and its collaborators.
package shed
