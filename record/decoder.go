package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-astm/internal/util"
)

// Decode errors.
var (
	ErrUnknownRecordType    = errors.New("record: unknown record type")
	ErrMissingRequiredField = errors.New("record: missing required field")
	ErrFieldParseFailure    = errors.New("record: field parse failure")
	ErrEmptyRecord          = errors.New("record: empty record")
)

// FieldError reports a field of a known record type that is missing or
// cannot be parsed. It matches ErrMissingRequiredField or ErrFieldParseFailure
// with errors.Is.
type FieldError struct {
	Record Type
	Field  string
	Kind   error // ErrMissingRequiredField or ErrFieldParseFailure
	Cause  error
}

func (e *FieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s.%s: %v", e.Kind, e.Record, e.Field, e.Cause)
	}

	return fmt.Sprintf("%v: %s.%s", e.Kind, e.Record, e.Field)
}

func (e *FieldError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}

	return []error{e.Kind}
}

// Decoder turns logical record text into typed records.
//
// By default the decoder adopts the delimiters each header record declares,
// so a Decoder carries state for one transmission; call Reset between
// transmissions. A Decoder is not safe for concurrent use.
type Decoder struct {
	initial Delimiters
	current Delimiters
	fixed   bool
}

// NewDecoder creates a decoder starting with delimiters d.
//
// If fixed is true the header's delimiter definition is ignored and d is used
// for every record, for instruments that declare one set and send another.
func NewDecoder(d Delimiters, fixed bool) *Decoder {
	return &Decoder{initial: d, current: d, fixed: fixed}
}

// Delimiters returns the delimiters currently in use.
func (dec *Decoder) Delimiters() Delimiters {
	return dec.current
}

// Reset restores the initial delimiters.
func (dec *Decoder) Reset() {
	dec.current = dec.initial
}

// Decode parses one logical record (without its trailing CR).
//
// Unknown type tags return ErrUnknownRecordType; the caller is expected to
// skip such records rather than fail the transmission.
func (dec *Decoder) Decode(text string) (Record, error) {
	text = strings.TrimRight(text, "\r\n")
	if text == "" {
		return nil, ErrEmptyRecord
	}

	delims := dec.current
	if Type(text[0]) == TypeHeader && !dec.fixed {
		if d, err := ParseDelimiters(text); err == nil {
			delims = d
		}
	}

	fields := util.SplitFields(text, delims.Field, 0)

	tag := fields[0]
	if len(tag) != 1 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, tag)
	}

	fn, ok := decoders[Type(tag[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, tag)
	}

	rec, err := fn(fields, delims)
	if err != nil {
		return nil, err
	}

	rec.setRaw(text)

	if rec.Type() == TypeHeader {
		dec.current = delims
	}

	return rec, nil
}

// Decode parses one record with the default delimiters.
func Decode(text string) (Record, error) {
	return NewDecoder(DefaultDelimiters, false).Decode(text)
}
