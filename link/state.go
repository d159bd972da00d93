package link

import "sync/atomic"

// State is the link-level state of a Receiver.
type State uint32

const (
	// Idle waits for ENQ. It is the initial state and the state after a closed session.
	Idle State = iota
	// AwaitingFirstFrame follows an accepted ENQ until the first valid frame.
	AwaitingFirstFrame
	// ReceivingFrames is entered with the first valid frame and left on EOT.
	ReceivingFrames
	// SessionClosed is passed through on EOT while the session is handed to the sink.
	SessionClosed
	// Aborted is entered on a transport failure, timeout or exhausted retries.
	// Only Reset leaves it.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingFirstFrame:
		return "AwaitingFirstFrame"
	case ReceivingFrames:
		return "ReceivingFrames"
	case SessionClosed:
		return "SessionClosed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// AtomicState holds a State that is written by the receiver and may be read
// from other goroutines.
type AtomicState struct {
	state atomic.Uint32
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Set sets the state and returns the previous one.
func (st *AtomicState) Set(s State) State {
	return State(st.state.Swap(uint32(s)))
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

func (st *AtomicState) IsIdle() bool { return st.Get() == Idle }

func (st *AtomicState) IsAborted() bool { return st.Get() == Aborted }

// InSession reports whether a handshake has been accepted and EOT not yet received.
func (st *AtomicState) InSession() bool {
	s := st.Get()
	return s == AwaitingFirstFrame || s == ReceivingFrames
}
