package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-astm/record"
)

// Ordering errors returned by Aggregator. They indicate a caller bug, not bad
// input from the instrument: the link layer filters records before appending.
var (
	ErrNoSession             = errors.New("session: no open session")
	ErrSessionOpen           = errors.New("session: session already open")
	ErrRecordBeforeHeader    = errors.New("session: record before header")
	ErrRecordAfterTerminator = errors.New("session: record after terminator")
	ErrDuplicateHeader       = errors.New("session: duplicate header")
	ErrNilRecord             = errors.New("session: nil record")
)

// Handle identifies the open session.
type Handle struct {
	ID        uint64
	UUID      uuid.UUID
	StartedAt time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLink sets the link name stamped on every session.
func WithLink(name string) AggregatorOption {
	return func(a *Aggregator) { a.link = name }
}

// WithFirstID sets the ID of the first session. Use it to continue numbering
// after a restart.
func WithFirstID(id uint64) AggregatorOption {
	return func(a *Aggregator) { a.nextID = id }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator builds one Session at a time.
//
// An Aggregator is owned by a single link and is not safe for concurrent use.
type Aggregator struct {
	link   string
	nextID uint64
	now    func() time.Time

	cur        *Session
	hasHeader  bool
	terminated bool
	order      *record.Order
}

// NewAggregator creates an aggregator. Session IDs start at 1 unless WithFirstID is given.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{nextID: 1, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Begin opens a new session.
func (a *Aggregator) Begin() (Handle, error) {
	if a.cur != nil {
		return Handle{}, fmt.Errorf("%w: %d", ErrSessionOpen, a.cur.ID)
	}

	a.cur = &Session{
		ID:        a.nextID,
		UUID:      uuid.New(),
		Link:      a.link,
		StartedAt: a.now(),
	}
	a.nextID++
	a.hasHeader = false
	a.terminated = false
	a.order = nil

	return Handle{ID: a.cur.ID, UUID: a.cur.UUID, StartedAt: a.cur.StartedAt}, nil
}

// Append adds rec to the open session.
//
// The first record must be a header, and nothing may follow the terminator.
// A result is linked to the most recent order of the session; a patient
// record clears that link.
func (a *Aggregator) Append(rec record.Record) error {
	switch {
	case a.cur == nil:
		return ErrNoSession
	case rec == nil:
		return ErrNilRecord
	case a.terminated:
		return fmt.Errorf("%w: %s", ErrRecordAfterTerminator, rec.Type())
	}

	switch r := rec.(type) {
	case *record.Header:
		if a.hasHeader {
			return ErrDuplicateHeader
		}
		a.hasHeader = true
	default:
		if !a.hasHeader {
			return fmt.Errorf("%w: %s", ErrRecordBeforeHeader, rec.Type())
		}

		switch r := r.(type) {
		case *record.Patient:
			a.order = nil
		case *record.Order:
			a.order = r
		case *record.Result:
			r.Order = a.order
		case *record.Terminator:
			a.terminated = true
		}
	}

	a.cur.Records = append(a.cur.Records, rec)

	return nil
}

// Skip counts a record that was received but not appended.
func (a *Aggregator) Skip() {
	if a.cur != nil {
		a.cur.Skipped++
	}
}

// Finalize closes the open session and returns it. The session is complete
// only if a terminator was appended.
func (a *Aggregator) Finalize() (*Session, error) {
	if a.cur == nil {
		return nil, ErrNoSession
	}

	s := a.cur
	s.EndedAt = a.now()
	s.Complete = a.terminated

	a.cur = nil
	a.order = nil

	return s, nil
}

// Abort closes the open session as incomplete, keeping the records received so far.
func (a *Aggregator) Abort(reason error) (*Session, error) {
	s, err := a.Finalize()
	if err != nil {
		return nil, err
	}

	s.Complete = false
	if reason != nil {
		s.AbortReason = reason.Error()
	}

	return s, nil
}

// Open reports whether a session is open.
func (a *Aggregator) Open() bool { return a.cur != nil }

// HasHeader reports whether the open session has its header.
func (a *Aggregator) HasHeader() bool { return a.cur != nil && a.hasHeader }

// Terminated reports whether the open session has its terminator.
func (a *Aggregator) Terminated() bool { return a.cur != nil && a.terminated }

// Len returns the number of records in the open session.
func (a *Aggregator) Len() int {
	if a.cur == nil {
		return 0
	}

	return len(a.cur.Records)
}

// CurrentOrder returns the order results are currently linked to.
func (a *Aggregator) CurrentOrder() *record.Order { return a.order }

// NextID returns the ID the next session will get.
func (a *Aggregator) NextID() uint64 { return a.nextID }
