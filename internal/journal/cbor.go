package journal

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// journalEncMode is the CBOR encoder mode for journal records.
//
//nolint:gochecknoglobals // Encoder modes are immutable after init.
var journalEncMode cbor.EncMode

// journalDecMode is the CBOR decoder mode for journal records.
//
//nolint:gochecknoglobals // Decoder modes are immutable after init.
var journalDecMode cbor.DecMode

func init() { //nolint:gochecknoinits // Modes must exist before the first record is written.
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}

	journalEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("create journal CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}

	journalDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("create journal CBOR decoder mode: %v", err))
	}
}

// Encode encodes a record to CBOR bytes.
func Encode(rec Record) ([]byte, error) {
	return journalEncMode.Marshal(rec)
}

// Decode decodes CBOR bytes into a record.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := journalDecMode.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// newEncoder creates a record encoder writing to w.
func newEncoder(w io.Writer) *cbor.Encoder {
	return journalEncMode.NewEncoder(w)
}

// newDecoder creates a record decoder reading from r.
func newDecoder(r io.Reader) *cbor.Decoder {
	return journalDecMode.NewDecoder(r)
}
