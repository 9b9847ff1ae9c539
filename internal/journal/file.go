package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/oshokin/loadshed/internal/config"
)

// File appends records to a journal file.
// It is safe for concurrent use from multiple goroutines.
type File struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	// onError is called when a record cannot be written.
	onError func(err error)
}

// FileOption configures a File.
type FileOption func(*File)

// WithErrorHandler sets the callback for write failures.
func WithErrorHandler(fn func(err error)) FileOption {
	return func(f *File) {
		f.onError = fn
	}
}

// Open opens the journal at path for appending, creating it if needed.
func Open(path string, opts ...FileOption) (*File, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	journal := &File{
		file:    f,
		encoder: newEncoder(f),
	}

	for _, opt := range opts {
		opt(journal)
	}

	return journal, nil
}

// Record appends a record. Failures go to the error handler and never
// interrupt the event.
func (j *File) Record(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	if err := j.encoder.Encode(rec); err != nil && j.onError != nil {
		j.onError(fmt.Errorf("append %s record: %w", rec.Kind, err))
	}
}

// Sync flushes the file to stable storage.
func (j *File) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	return j.file.Sync()
}

// Close closes the journal file. It is safe to call Close multiple times.
// After Close, Record calls are silently ignored.
func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.file.Close()
}

// Compile-time interface satisfaction check.
var _ Recorder = (*File)(nil)
