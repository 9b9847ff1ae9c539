// Package clock measures how long a load-shed event has been running and
// reports when its configured duration is over.
//
// Expiry is latched: once EventClock reports an event expired it keeps doing
// so, even if the underlying time source is adjusted backwards.
package clock
