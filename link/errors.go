package link

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

var (
	// ErrAborted is returned by ReceiveSession after the receiver has aborted.
	// Reset it with a reopened port.
	ErrAborted = errors.New("link: receiver aborted, reset required")
	// ErrRetryLimitExceeded is the session error when one frame failed more
	// often than the retry budget allows.
	ErrRetryLimitExceeded = errors.New("link: retry limit exceeded")
	// ErrHandshakeRejected is returned when an ENQ was answered with NAK.
	ErrHandshakeRejected = errors.New("link: handshake rejected")
	// ErrRecordTooLarge is the skip reason of a record longer than the configured maximum.
	ErrRecordTooLarge = errors.New("link: record too large")
	// ErrIncompleteRecord is the skip reason of a record cut off by EOT.
	ErrIncompleteRecord = errors.New("link: incomplete record")
	// ErrUnexpectedByte is the frame error for a byte that is neither STX nor EOT between frames.
	ErrUnexpectedByte = errors.New("link: unexpected byte between frames")
	// ErrSaveFailed wraps a sink error for an otherwise successful session.
	ErrSaveFailed = errors.New("link: save session failed")
)

// TransportError is a read or write failure of the port. Timeout is set when
// a read timed out.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("link: %s: timeout: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("link: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Timeout: errors.Is(err, transport.ErrTimeout), Err: err}
}

// SessionError is a session-level failure. Session holds the partial session,
// already handed to the sink; it is nil if the failure happened before a
// handshake was accepted.
type SessionError struct {
	Session *session.Session
	Err     error
}

func (e *SessionError) Error() string {
	if e.Session == nil {
		return fmt.Sprintf("link: session failed: %v", e.Err)
	}

	return fmt.Sprintf("link: session %d failed after %d records: %v", e.Session.ID, len(e.Session.Records), e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
