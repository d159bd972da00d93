// Package session accumulates the decoded records of one ASTM transmission
// into a Session and hands finished sessions to a Sink.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-astm/record"
)

// Session is one transmission, from an accepted ENQ to EOT or abort.
//
// A Session returned by Aggregator.Finalize is no longer referenced by the
// aggregator and must be treated as immutable.
type Session struct {
	// ID is a per-aggregator counter, increasing by one per session.
	ID uint64
	// UUID identifies the session across links and restarts.
	UUID uuid.UUID
	// Link is the name of the link the session was received on.
	Link      string
	StartedAt time.Time
	EndedAt   time.Time
	// Complete is true when a terminator record was received and the
	// transmission ended with EOT.
	Complete bool
	// AbortReason is set when the link failed before EOT.
	AbortReason string
	// Records holds the accepted records in arrival order.
	Records []record.Record
	// Skipped counts records that were received but not appended.
	Skipped int
}

// Header returns the header record, or nil.
func (s *Session) Header() *record.Header {
	for _, r := range s.Records {
		if h, ok := r.(*record.Header); ok {
			return h
		}
	}

	return nil
}

// Terminator returns the terminator record, or nil.
func (s *Session) Terminator() *record.Terminator {
	for i := len(s.Records) - 1; i >= 0; i-- {
		if l, ok := s.Records[i].(*record.Terminator); ok {
			return l
		}
	}

	return nil
}

func (s *Session) Patients() []*record.Patient { return collect[*record.Patient](s.Records) }
func (s *Session) Orders() []*record.Order     { return collect[*record.Order](s.Records) }
func (s *Session) Results() []*record.Result   { return collect[*record.Result](s.Records) }
func (s *Session) Comments() []*record.Comment { return collect[*record.Comment](s.Records) }

func collect[T record.Record](recs []record.Record) []T {
	var out []T
	for _, r := range recs {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}

	return out
}

// Duration returns the time between handshake and finalize.
func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}

	return s.EndedAt.Sub(s.StartedAt)
}

type taggedRecord struct {
	Type string        `json:"type"`
	Data record.Record `json:"data"`
}

// MarshalJSON renders the session with each record tagged by its type letter.
func (s *Session) MarshalJSON() ([]byte, error) {
	recs := make([]taggedRecord, len(s.Records))
	for i, r := range s.Records {
		recs[i] = taggedRecord{Type: string(rune(r.Type())), Data: r}
	}

	return json.Marshal(struct {
		ID        uint64         `json:"id"`
		UUID      uuid.UUID      `json:"uuid"`
		Link      string         `json:"link,omitempty"`
		StartedAt time.Time      `json:"started_at"`
		EndedAt   time.Time      `json:"ended_at,omitzero"`
		Complete  bool           `json:"complete"`
		Abort     string         `json:"abort_reason,omitempty"`
		Skipped   int            `json:"skipped,omitempty"`
		Records   []taggedRecord `json:"records"`
	}{s.ID, s.UUID, s.Link, s.StartedAt, s.EndedAt, s.Complete, s.AbortReason, s.Skipped, recs})
}

// Sink receives finalized sessions.
type Sink interface {
	Save(ctx context.Context, s *Session) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s *Session) error

func (f SinkFunc) Save(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// MultiSink saves to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Save(ctx context.Context, s *Session) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
