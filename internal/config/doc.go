// Package config defines the load-shed settings used by the binaries and
// provides helpers to load, validate and save them in YAML format.
//
// A single file carries the gateway connection, the event timing, the
// evaluation policy and the device registry input, so one event run is fully
// described by one document.
package config
