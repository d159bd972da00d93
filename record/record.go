package record

import (
	"fmt"
	"strconv"
	"time"
)

// Type is the record type tag, the first field of every record.
type Type byte

// Record type tags decoded by this package (ASTM E1394 / LIS2-A2 §6-§12).
const (
	TypeHeader     Type = 'H'
	TypePatient    Type = 'P'
	TypeOrder      Type = 'O'
	TypeResult     Type = 'R'
	TypeComment    Type = 'C'
	TypeTerminator Type = 'L'
)

// String returns the tag letter and record name, e.g. "R(result)".
func (t Type) String() string {
	name := "unknown"
	switch t {
	case TypeHeader:
		name = "header"
	case TypePatient:
		name = "patient"
	case TypeOrder:
		name = "order"
	case TypeResult:
		name = "result"
	case TypeComment:
		name = "comment"
	case TypeTerminator:
		name = "terminator"
	}

	if t < 0x20 || t > 0x7E {
		return fmt.Sprintf("0x%02X(%s)", byte(t), name)
	}

	return fmt.Sprintf("%c(%s)", byte(t), name)
}

// Record is a decoded logical record. The concrete type is one of
// *Header, *Patient, *Order, *Result, *Comment or *Terminator.
type Record interface {
	// Type returns the record type tag.
	Type() Type
	// RawText returns the record text the record was decoded from.
	RawText() string

	setRaw(raw string)
}

// Header is the message header record (H). It opens every transmission.
type Header struct {
	Raw string `json:"raw"`

	Delimiters   Delimiters `json:"delimiters"`
	ControlID    string     `json:"control_id,omitempty"`
	Sender       string     `json:"sender,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Product      string     `json:"product,omitempty"`
	Version      string     `json:"software_version,omitempty"`
	InstrumentID string     `json:"instrument_id,omitempty"`
	ReceiverID   string     `json:"receiver_id,omitempty"`
	ProcessingID string     `json:"processing_id,omitempty"`
	LISVersion   string     `json:"version_number,omitempty"`
	Timestamp    time.Time  `json:"message_datetime,omitzero"`
}

// Patient is the patient information record (P).
type Patient struct {
	Raw string `json:"raw"`

	Seq        int       `json:"sequence"`
	PracticeID string    `json:"practice_id,omitempty"`
	PatientID  string    `json:"patient_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Birthdate  time.Time `json:"birthdate,omitzero"`
	Sex        string    `json:"sex,omitempty"`
	Physician  string    `json:"attending_physician,omitempty"`
}

// Order is the test order record (O).
type Order struct {
	Raw string `json:"raw"`

	Seq          int       `json:"sequence"`
	SampleID     string    `json:"sample_id,omitempty"`
	Position     string    `json:"position,omitempty"`
	InstrumentID string    `json:"instrument_specimen_id,omitempty"`
	TestID       string    `json:"test_id,omitempty"`
	TestCode     string    `json:"test_code,omitempty"`
	Priority     string    `json:"priority,omitempty"`
	CollectedAt  time.Time `json:"collected_at,omitzero"`
	ReportType   string    `json:"report_type,omitempty"`
}

// Result is the result record (R).
//
// Order is not carried on the wire: a result belongs to the most recent order
// of the transmission, and the session aggregator fills Order on append.
type Result struct {
	Raw string `json:"raw"`

	Seq            int       `json:"sequence,omitempty"`
	TestID         string    `json:"test_id,omitempty"`
	TestCode       string    `json:"test_code,omitempty"`
	Value          string    `json:"value"`
	Units          string    `json:"units,omitempty"`
	ReferenceRange string    `json:"reference_range,omitempty"`
	Flags          []string  `json:"flags,omitempty"`
	Status         string    `json:"status,omitempty"`
	StartedAt      time.Time `json:"test_start,omitzero"`
	CompletedAt    time.Time `json:"test_complete,omitzero"`
	InstrumentID   string    `json:"instrument_id,omitempty"`

	Order *Order `json:"-"`
}

// Comment is the comment record (C).
type Comment struct {
	Raw string `json:"raw"`

	Seq    int    `json:"sequence"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
	Kind   string `json:"comment_type,omitempty"`
}

// Terminator is the message terminator record (L). It closes a transmission.
type Terminator struct {
	Raw string `json:"raw"`

	Seq  int    `json:"sequence"`
	Code string `json:"termination_code,omitempty"`
}

func (*Header) Type() Type     { return TypeHeader }
func (*Patient) Type() Type    { return TypePatient }
func (*Order) Type() Type      { return TypeOrder }
func (*Result) Type() Type     { return TypeResult }
func (*Comment) Type() Type    { return TypeComment }
func (*Terminator) Type() Type { return TypeTerminator }

func (r *Header) RawText() string     { return r.Raw }
func (r *Patient) RawText() string    { return r.Raw }
func (r *Order) RawText() string      { return r.Raw }
func (r *Result) RawText() string     { return r.Raw }
func (r *Comment) RawText() string    { return r.Raw }
func (r *Terminator) RawText() string { return r.Raw }

func (r *Header) setRaw(raw string)     { r.Raw = raw }
func (r *Patient) setRaw(raw string)    { r.Raw = raw }
func (r *Order) setRaw(raw string)      { r.Raw = raw }
func (r *Result) setRaw(raw string)     { r.Raw = raw }
func (r *Comment) setRaw(raw string)    { r.Raw = raw }
func (r *Terminator) setRaw(raw string) { r.Raw = raw }

// Numeric returns the result value as a float64.
func (r *Result) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// HasFlag reports whether the result carries the abnormal flag f.
func (r *Result) HasFlag(f string) bool {
	for _, flag := range r.Flags {
		if flag == f {
			return true
		}
	}

	return false
}

// Complete reports whether the terminator signals a normal end of transmission.
// An empty code is treated as normal.
func (r *Terminator) Complete() bool {
	return r.Code == "" || r.Code == "N"
}
