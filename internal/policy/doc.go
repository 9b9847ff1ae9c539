// Package policy turns point readings into override and release decisions.
//
// A policy is pure with respect to the outside world: it looks at the latest
// readings snapshot, the held overrides and the elapsed event time and returns
// actions. The orchestrator performs them. Policies never ask for an override
// on a point that is already held, so evaluating twice on the same inputs
// yields no new work.
//
// Three policies are available:
//   - setpoint writes sensor+adjustment (or a fixed value) to each device's
//     setpoint and releases a device early once its sensor crosses a threshold;
//   - staged counts active stage outputs and forces stages off according to a
//     count table;
//   - stepped forces stages off on a schedule of elapsed event time.
package policy
