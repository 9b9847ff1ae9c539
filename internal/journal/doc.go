// Package journal keeps an append-only record of every load-shed event.
//
// Records are CBOR-encoded one after another in a single file. Every override
// that was acknowledged and every release is written as it happens, so after a
// crash Replay can tell which points are still held and which events never
// reached finalization.
package journal
