// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level and format parsing utilities,
//   - per-component levels (WithComponentLevel),
//   - convenience functions (InfoKV, ErrorKV, etc.).
//
// Every load-shed component receives a context and extracts the logger from
// it, so each lifecycle transition and point call carries the event ID and the
// component name.
package logger
