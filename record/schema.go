package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-astm/internal/util"
)

// The field maps below follow CLSI LIS2-A2 (ASTM E1394). Field indexes count
// the type tag as field 0, so `R|1|^^^ESR|15` has the value at index 3.

type decodeFunc func(fields []string, d Delimiters) (Record, error)

// field maps one positional field onto a record of type T.
type field[T any] struct {
	index    int
	name     string
	required bool
	parse    func(r *T, v string, d Delimiters) error
}

// layout is the ordered field list of one record type. A record type may
// have several layouts; the first whose match accepts the fields is used.
type layout[T any] struct {
	match  func(fields []string, d Delimiters) bool
	fields []field[T]
	finish func(r *T, d Delimiters)
}

var decoders = map[Type]decodeFunc{
	TypeHeader:     decoderFor[Header, *Header](TypeHeader, headerLayout),
	TypePatient:    decoderFor[Patient, *Patient](TypePatient, patientLayout),
	TypeOrder:      decoderFor[Order, *Order](TypeOrder, orderLayout),
	TypeResult:     decoderFor[Result, *Result](TypeResult, resultLayout, compactResultLayout),
	TypeComment:    decoderFor[Comment, *Comment](TypeComment, commentLayout),
	TypeTerminator: decoderFor[Terminator, *Terminator](TypeTerminator, terminatorLayout),
}

var headerLayout = layout[Header]{
	fields: []field[Header]{
		{0, "delimiters", false, func(r *Header, _ string, d Delimiters) error { r.Delimiters = d; return nil }},
		{2, "message_control_id", false, func(r *Header, v string, _ Delimiters) error { r.ControlID = v; return nil }},
		{4, "sender", false, func(r *Header, v string, d Delimiters) error {
			r.Sender = v
			parts := d.Components(v)
			r.Manufacturer = util.FieldAt(parts, 0)
			r.Product = util.FieldAt(parts, 1)
			r.Version = util.FieldAt(parts, 2)
			r.InstrumentID = util.FieldAt(parts, 3)

			return nil
		}},
		{9, "receiver_id", false, func(r *Header, v string, _ Delimiters) error { r.ReceiverID = v; return nil }},
		{11, "processing_id", false, func(r *Header, v string, _ Delimiters) error { r.ProcessingID = v; return nil }},
		{12, "version_number", false, func(r *Header, v string, _ Delimiters) error { r.LISVersion = v; return nil }},
		{13, "message_datetime", false, func(r *Header, v string, _ Delimiters) (err error) {
			r.Timestamp, err = parseTimestamp(v)
			return err
		}},
	},
}

var patientLayout = layout[Patient]{
	fields: []field[Patient]{
		{1, "sequence", true, func(r *Patient, v string, _ Delimiters) (err error) {
			r.Seq, err = parseSeq(v)
			return err
		}},
		{2, "practice_id", false, func(r *Patient, v string, _ Delimiters) error { r.PracticeID = v; return nil }},
		{3, "patient_id", false, func(r *Patient, v string, _ Delimiters) error { r.PatientID = v; return nil }},
		{5, "name", false, func(r *Patient, v string, d Delimiters) error { r.Name = joinComponents(v, d); return nil }},
		{7, "birthdate", false, func(r *Patient, v string, _ Delimiters) (err error) {
			r.Birthdate, err = parseTimestamp(v)
			return err
		}},
		{8, "sex", false, func(r *Patient, v string, _ Delimiters) error { r.Sex = v; return nil }},
		{13, "attending_physician", false, func(r *Patient, v string, d Delimiters) error {
			r.Physician = joinComponents(v, d)
			return nil
		}},
	},
}

var orderLayout = layout[Order]{
	fields: []field[Order]{
		{1, "sequence", true, func(r *Order, v string, _ Delimiters) (err error) {
			r.Seq, err = parseSeq(v)
			return err
		}},
		{2, "specimen_id", false, func(r *Order, v string, d Delimiters) error {
			parts := d.Components(v)
			r.SampleID = util.FieldAt(parts, 0)
			r.Position = util.FieldAt(parts, 1)

			return nil
		}},
		{3, "instrument_specimen_id", false, func(r *Order, v string, _ Delimiters) error { r.InstrumentID = v; return nil }},
		{4, "universal_test_id", false, func(r *Order, v string, d Delimiters) error {
			r.TestID = v
			r.TestCode = testCode(v, d)

			return nil
		}},
		{5, "priority", false, func(r *Order, v string, _ Delimiters) error { r.Priority = v; return nil }},
		{7, "collected_at", false, func(r *Order, v string, _ Delimiters) (err error) {
			r.CollectedAt, err = parseTimestamp(v)
			return err
		}},
		{25, "report_type", false, func(r *Order, v string, _ Delimiters) error { r.ReportType = v; return nil }},
	},
	finish: func(r *Order, _ Delimiters) {
		if r.SampleID == "" {
			r.SampleID = r.InstrumentID
		}
	},
}

// resultLayout is the LIS2-A2 result record: R|seq|test|value|units|range|flags|...
//
// An integer in field 1 alone does not identify it, since compact results
// carry integer values too. Field 2 must also hold a component-delimited test
// id, or the record must be longer than the compact form.
var resultLayout = layout[Result]{
	match: func(fields []string, d Delimiters) bool {
		if _, err := parseSeq(util.FieldAt(fields, 1)); err != nil {
			return false
		}

		return strings.IndexByte(util.FieldAt(fields, 2), d.Component) >= 0 || len(fields) > 5
	},
	fields: []field[Result]{
		{1, "sequence", true, func(r *Result, v string, _ Delimiters) (err error) {
			r.Seq, err = parseSeq(v)
			return err
		}},
		{2, "universal_test_id", false, func(r *Result, v string, d Delimiters) error {
			r.TestID = v
			r.TestCode = testCode(v, d)

			return nil
		}},
		{3, "value", true, setResultValue},
		{4, "units", false, setResultUnits},
		{5, "reference_range", false, func(r *Result, v string, _ Delimiters) error { r.ReferenceRange = v; return nil }},
		{6, "abnormal_flags", false, setResultFlags},
		{8, "status", false, func(r *Result, v string, _ Delimiters) error { r.Status = v; return nil }},
		{11, "test_start", false, func(r *Result, v string, _ Delimiters) (err error) {
			r.StartedAt, err = parseTimestamp(v)
			return err
		}},
		{12, "test_complete", false, func(r *Result, v string, _ Delimiters) (err error) {
			r.CompletedAt, err = parseTimestamp(v)
			return err
		}},
		{13, "instrument_id", false, setResultInstrument},
	},
	finish: unpackResultValue,
}

// compactResultLayout is the short result form some analyzers emit without a
// sequence number: R|value|units|flags|instrument.
var compactResultLayout = layout[Result]{
	fields: []field[Result]{
		{1, "value", true, setResultValue},
		{2, "units", false, setResultUnits},
		{3, "abnormal_flags", false, setResultFlags},
		{4, "instrument_id", false, setResultInstrument},
	},
	finish: unpackResultValue,
}

var commentLayout = layout[Comment]{
	fields: []field[Comment]{
		{1, "sequence", true, func(r *Comment, v string, _ Delimiters) (err error) {
			r.Seq, err = parseSeq(v)
			return err
		}},
		{2, "source", false, func(r *Comment, v string, _ Delimiters) error { r.Source = v; return nil }},
		{3, "text", true, func(r *Comment, v string, d Delimiters) error { r.Text = joinComponents(v, d); return nil }},
		{4, "comment_type", false, func(r *Comment, v string, _ Delimiters) error { r.Kind = v; return nil }},
	},
}

var terminatorLayout = layout[Terminator]{
	fields: []field[Terminator]{
		{1, "sequence", false, func(r *Terminator, v string, _ Delimiters) (err error) {
			r.Seq, err = parseSeq(v)
			return err
		}},
		{2, "termination_code", false, func(r *Terminator, v string, _ Delimiters) error { r.Code = v; return nil }},
	},
}

func decoderFor[T any, P interface {
	*T
	Record
}](rt Type, layouts ...layout[T]) decodeFunc {
	return func(fields []string, d Delimiters) (Record, error) {
		l := pickLayout(layouts, fields, d)
		rec := new(T)

		for _, f := range l.fields {
			v := util.FieldAt(fields, f.index)
			if v == "" {
				if f.required {
					return nil, &FieldError{Record: rt, Field: f.name, Kind: ErrMissingRequiredField}
				}

				continue
			}

			if err := f.parse(rec, v, d); err != nil {
				return nil, &FieldError{Record: rt, Field: f.name, Kind: ErrFieldParseFailure, Cause: err}
			}
		}

		if l.finish != nil {
			l.finish(rec, d)
		}

		return P(rec), nil
	}
}

func pickLayout[T any](layouts []layout[T], fields []string, d Delimiters) layout[T] {
	for _, l := range layouts {
		if l.match == nil || l.match(fields, d) {
			return l
		}
	}

	return layouts[len(layouts)-1]
}

func setResultValue(r *Result, v string, _ Delimiters) error {
	r.Value = v
	return nil
}

func setResultUnits(r *Result, v string, _ Delimiters) error {
	r.Units = v
	return nil
}

func setResultFlags(r *Result, v string, d Delimiters) error {
	r.Flags = d.Repeats(v)
	return nil
}

func setResultInstrument(r *Result, v string, _ Delimiters) error {
	r.InstrumentID = v
	return nil
}

// unpackResultValue splits a value packed as value^units^flags.
func unpackResultValue(r *Result, d Delimiters) {
	if strings.IndexByte(r.Value, d.Component) < 0 {
		return
	}

	parts := d.Components(r.Value)
	r.Value = parts[0]

	if r.Units == "" {
		r.Units = util.FieldAt(parts, 1)
	}

	if len(r.Flags) == 0 && util.FieldAt(parts, 2) != "" {
		r.Flags = d.Repeats(parts[2])
	}
}

var errNegativeSeq = errors.New("negative sequence number")

func parseSeq(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, errNegativeSeq
	}

	return n, nil
}

var timestampLayouts = map[int]string{
	8:  "20060102",
	12: "200601021504",
	14: "20060102150405",
}

// parseTimestamp parses the ASTM date/time forms YYYYMMDD[HHMM[SS]] in local time.
func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)

	l, ok := timestampLayouts[len(v)]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported timestamp %q", v)
	}

	return time.ParseInLocation(l, v, time.Local)
}

// testCode returns the last non-empty component of a universal test id,
// e.g. "^^^ESR" -> "ESR" and "^^^ESR^4537-7" -> "4537-7".
func testCode(v string, d Delimiters) string {
	parts := d.Components(v)
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return ""
}

// joinComponents renders a component field as space separated text.
func joinComponents(v string, d Delimiters) string {
	parts := d.Components(v)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, d.Unescape(p))
		}
	}

	return strings.Join(out, " ")
}
