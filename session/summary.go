package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-astm/record"
)

// Summary is the human-readable digest of a session.
type Summary struct {
	ID              uint64          `json:"id"`
	UUID            uuid.UUID       `json:"uuid"`
	Link            string          `json:"link,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at,omitzero"`
	Complete        bool            `json:"complete"`
	AbortReason     string          `json:"abort_reason,omitempty"`
	Instrument      string          `json:"instrument,omitempty"`
	SoftwareVersion string          `json:"software_version,omitempty"`
	Patients        int             `json:"patients"`
	Orders          int             `json:"orders"`
	TotalResults    int             `json:"total_results"`
	Comments        int             `json:"comments"`
	Skipped         int             `json:"skipped,omitempty"`
	TerminationCode string          `json:"termination_code,omitempty"`
	Results         []ResultSummary `json:"results"`
}

// ResultSummary is one result line of a Summary.
type ResultSummary struct {
	SampleID       string                `json:"sample_id,omitempty"`
	Position       string                `json:"position,omitempty"`
	TestCode       string                `json:"test_code,omitempty"`
	Value          string                `json:"value"`
	Units          string                `json:"units,omitempty"`
	Flags          []string              `json:"flags,omitempty"`
	Interpretation record.Interpretation `json:"interpretation"`
	InstrumentID   string                `json:"instrument_id,omitempty"`
	CompletedAt    time.Time             `json:"completed_at,omitzero"`
}

// Summarize builds the summary of s.
func Summarize(s *Session) Summary {
	sum := Summary{
		ID:          s.ID,
		UUID:        s.UUID,
		Link:        s.Link,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Complete:    s.Complete,
		AbortReason: s.AbortReason,
		Skipped:     s.Skipped,
		Results:     []ResultSummary{},
	}

	if h := s.Header(); h != nil {
		sum.Instrument = h.InstrumentID
		if sum.Instrument == "" {
			sum.Instrument = h.Product
		}
		sum.SoftwareVersion = h.Version
	}

	if l := s.Terminator(); l != nil {
		sum.TerminationCode = l.Code
	}

	for _, rec := range s.Records {
		switch r := rec.(type) {
		case *record.Patient:
			sum.Patients++
		case *record.Order:
			sum.Orders++
		case *record.Comment:
			sum.Comments++
		case *record.Result:
			sum.TotalResults++
			sum.Results = append(sum.Results, summarizeResult(r))
		}
	}

	return sum
}

func summarizeResult(r *record.Result) ResultSummary {
	rs := ResultSummary{
		TestCode:       r.TestCode,
		Value:          r.Value,
		Units:          r.Units,
		Flags:          r.Flags,
		Interpretation: r.Interpret(),
		InstrumentID:   r.InstrumentID,
		CompletedAt:    r.CompletedAt,
	}

	if o := r.Order; o != nil {
		rs.SampleID = o.SampleID
		rs.Position = o.Position
		if rs.TestCode == "" {
			rs.TestCode = o.TestCode
		}
	}

	return rs
}
