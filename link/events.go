package link

import (
	"fmt"
	"time"

	"github.com/arloliu/go-astm/record"
)

// EventKind identifies what happened on the link.
type EventKind uint8

const (
	EventHandshakeAccepted EventKind = iota + 1
	EventHandshakeRejected
	EventFrameAccepted
	EventFrameRejected
	EventFrameDuplicate
	EventRecordAccepted
	EventRecordSkipped
	EventStrayByte
	EventSessionClosed
	EventSessionAborted
)

func (k EventKind) String() string {
	switch k {
	case EventHandshakeAccepted:
		return "HandshakeAccepted"
	case EventHandshakeRejected:
		return "HandshakeRejected"
	case EventFrameAccepted:
		return "FrameAccepted"
	case EventFrameRejected:
		return "FrameRejected"
	case EventFrameDuplicate:
		return "FrameDuplicate"
	case EventRecordAccepted:
		return "RecordAccepted"
	case EventRecordSkipped:
		return "RecordSkipped"
	case EventStrayByte:
		return "StrayByte"
	case EventSessionClosed:
		return "SessionClosed"
	case EventSessionAborted:
		return "SessionAborted"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event reports one inbound outcome on the link. Fields that do not apply to
// the kind are zero; Seq is -1 when no frame number is known.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Link    string
	Session uint64

	// Seq is the frame number of frame events.
	Seq int
	// Record is the type of record events.
	Record record.Type
	// Text is the record text of record events.
	Text string
	// Byte is the unexpected byte of StrayByte events.
	Byte byte
	// Err is the reason for rejected frames, skipped records and aborted sessions.
	Err error
}

// Observer receives link events. OnEvent is called synchronously from the
// receiving goroutine and must not block.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
