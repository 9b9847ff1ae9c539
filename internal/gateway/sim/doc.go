// Package sim simulates a Point Gateway in memory.
//
// Every point owns a 16-level priority array plus a relinquish default, the way
// building controllers arbitrate commands: the present value is the command at
// the highest (numerically lowest) occupied level, or the relinquish default if
// every level is empty.
//
// The simulator records every call and can be told to fail specific
// operations, which makes it the gateway used by tests, by dry runs and behind
// the pointgw-sim server.
package sim
