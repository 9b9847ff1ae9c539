// Package state persists the priority arrays of the point gateway simulator.
//
// The FileRepository stores and loads a snapshot as protobuf JSON (a
// structpb.Struct) on disk and exposes a Repository interface that the
// simulator service depends on.
package state
