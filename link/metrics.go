package link

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a Receiver.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// HandshakeCount indicates the number of ENQs answered with ACK.
	HandshakeCount atomic.Uint64
	// HandshakeRejectCount indicates the number of ENQs answered with NAK.
	HandshakeRejectCount atomic.Uint64

	// FrameRecvCount indicates the number of valid frames accepted.
	FrameRecvCount atomic.Uint64
	// FrameErrCount indicates the number of invalid frames and stray bytes answered with NAK.
	FrameErrCount atomic.Uint64
	// FrameDupCount indicates the number of repeated frames acknowledged again.
	FrameDupCount atomic.Uint64
	// StrayByteCount indicates the number of unexpected bytes outside frames.
	StrayByteCount atomic.Uint64

	// RecordRecvCount indicates the number of records appended to sessions.
	RecordRecvCount atomic.Uint64
	// RecordSkipCount indicates the number of records received but skipped.
	RecordSkipCount atomic.Uint64

	// SessionCount indicates the number of sessions closed by EOT.
	SessionCount atomic.Uint64
	// SessionAbortCount indicates the number of aborted sessions.
	SessionAbortCount atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Handshakes       uint64 `json:"handshakes"`
	HandshakeRejects uint64 `json:"handshake_rejects"`
	Frames           uint64 `json:"frames"`
	FrameErrors      uint64 `json:"frame_errors"`
	FrameDuplicates  uint64 `json:"frame_duplicates"`
	StrayBytes       uint64 `json:"stray_bytes"`
	Records          uint64 `json:"records"`
	RecordsSkipped   uint64 `json:"records_skipped"`
	Sessions         uint64 `json:"sessions"`
	SessionsAborted  uint64 `json:"sessions_aborted"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Handshakes:       m.HandshakeCount.Load(),
		HandshakeRejects: m.HandshakeRejectCount.Load(),
		Frames:           m.FrameRecvCount.Load(),
		FrameErrors:      m.FrameErrCount.Load(),
		FrameDuplicates:  m.FrameDupCount.Load(),
		StrayBytes:       m.StrayByteCount.Load(),
		Records:          m.RecordRecvCount.Load(),
		RecordsSkipped:   m.RecordSkipCount.Load(),
		Sessions:         m.SessionCount.Load(),
		SessionsAborted:  m.SessionAbortCount.Load(),
	}
}

func (m *Metrics) countEvent(k EventKind) {
	switch k {
	case EventHandshakeAccepted:
		m.HandshakeCount.Add(1)
	case EventHandshakeRejected:
		m.HandshakeRejectCount.Add(1)
	case EventFrameAccepted:
		m.FrameRecvCount.Add(1)
	case EventFrameRejected:
		m.FrameErrCount.Add(1)
	case EventFrameDuplicate:
		m.FrameDupCount.Add(1)
	case EventStrayByte:
		m.StrayByteCount.Add(1)
	case EventRecordAccepted:
		m.RecordRecvCount.Add(1)
	case EventRecordSkipped:
		m.RecordSkipCount.Add(1)
	case EventSessionClosed:
		m.SessionCount.Add(1)
	case EventSessionAborted:
		m.SessionAbortCount.Add(1)
	}
}
