package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for filtering records.
// Empty fields match all records for that criterion.
type Filter struct {
	// EventID filters by exact event ID.
	EventID string
	// Kinds filters by record kind.
	Kinds []Kind
	// Device filters by device name.
	Device string
	// TimeStart filters records at or after this time.
	TimeStart *time.Time
	// TimeEnd filters records before this time.
	TimeEnd *time.Time
}

// matches reports whether the record satisfies every criterion.
func (f *Filter) matches(rec *Record) bool {
	if f.EventID != "" && rec.EventID != f.EventID {
		return false
	}

	if len(f.Kinds) > 0 && !kindIn(rec.Kind, f.Kinds) {
		return false
	}

	if f.Device != "" && rec.Device != f.Device {
		return false
	}

	if f.TimeStart != nil && rec.Timestamp.Before(*f.TimeStart) {
		return false
	}

	if f.TimeEnd != nil && !rec.Timestamp.Before(*f.TimeEnd) {
		return false
	}

	return true
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}

	return false
}

// ErrTruncated is returned by Next when the file ends inside a record,
// which happens when the writer was killed mid-append.
var ErrTruncated = errors.New("journal truncated")

// Reader streams records from a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader creates a Reader over every record in the file.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader returning only records matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Reader{
		file:    f,
		decoder: newDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching record, io.EOF at the end of the file,
// or ErrTruncated when the last record is incomplete.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return Record{}, io.EOF
			case errors.Is(err, io.ErrUnexpectedEOF):
				return Record{}, ErrTruncated
			default:
				return Record{}, fmt.Errorf("decode record: %w", err)
			}
		}

		if r.filter.matches(&rec) {
			return rec, nil
		}
	}
}

// All reads every remaining matching record. A truncated tail is dropped
// and reported alongside the records read so far.
func (r *Reader) All() ([]Record, error) {
	var records []Record

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}

		if err != nil {
			return records, err
		}

		records = append(records, rec)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
