package link

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/frame"
	"github.com/arloliu/go-astm/internal/testutil"
	"github.com/arloliu/go-astm/record"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

func mustFrame(t *testing.T, seq uint8, text string) []byte {
	t.Helper()

	raw, err := frame.Encode(seq, []byte(text+"\r"))
	require.NoError(t, err)

	return raw
}

// ===========================================================================
// Complete sessions
// ===========================================================================

func TestReceiveSession_EndToEnd(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Transmit(testHeader, testPatient, testOrder, testResult, testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.True(t, s.Complete)
	assert.Equal(t, uint64(1), s.ID)
	assert.Equal(t, "test", s.Link)
	assert.Zero(t, s.Skipped)
	assert.Empty(t, s.AbortReason)

	require.Len(t, s.Records, 5)
	types := make([]record.Type, len(s.Records))
	for i, rec := range s.Records {
		types[i] = rec.Type()
	}
	assert.Equal(t, []record.Type{
		record.TypeHeader, record.TypePatient, record.TypeOrder, record.TypeResult, record.TypeTerminator,
	}, types)

	res, ok := s.Records[3].(*record.Result)
	require.True(t, ok)
	assert.Equal(t, "15.0", res.Value)
	assert.Equal(t, "mm/h", res.Units)
	assert.Equal(t, []string{"N"}, res.Flags)
	assert.Same(t, s.Records[2], res.Order)

	assert.Equal(t, Idle, tl.rx.State())
	require.Len(t, tl.sink.all(), 1)
	assert.Same(t, s, tl.sink.all()[0])

	m := tl.rx.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.Handshakes)
	assert.Equal(t, uint64(5), m.Frames)
	assert.Equal(t, uint64(5), m.Records)
	assert.Equal(t, uint64(1), m.Sessions)
	assert.Zero(t, m.FrameErrors)
}

func TestReceiveSession_MultiFrameRecord(t *testing.T) {
	tl := newTestLink(t)
	text := strings.Repeat("a long comment ", 8)
	comment := "C|1|I|" + text + "|G"

	done := script(func() {
		tl.peer.WithMaxPayload(10)
		tl.peer.Transmit(testHeader, comment, testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)

	comments := s.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, text, comments[0].Text)
	assert.True(t, s.Complete)
	// More than eight frames, so the frame number wrapped.
	assert.Greater(t, tl.rx.Metrics().Snapshot().Frames, uint64(frame.MaxSeq+1))
}

func TestReceiveSession_SeveralRecordsInOneFrame(t *testing.T) {
	tl := newTestLink(t)
	text := strings.Join([]string{testHeader, testResult, testTerminator}, "\r") + "\r"

	done := script(func() {
		tl.peer.Handshake()
		raw, _ := frame.Encode(1, []byte(text))
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(raw))
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 3)
	assert.True(t, s.Complete)
}

func TestReceiveSession_NoTerminatorIsIncomplete(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Transmit(testHeader, testResult)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.False(t, s.Complete)
	assert.Len(t, s.Records, 2)
}

func TestReceiveSession_AckOnEOT(t *testing.T) {
	tl := newTestLink(t, WithAckOnEOT(true))

	done := script(func() {
		tl.peer.Transmit(testHeader, testTerminator)
		tl.peer.Expect(frame.ACK)
	})

	_, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
}

func TestReceiveSession_SaveFailure(t *testing.T) {
	tl := newTestLink(t)
	tl.sink.err = errors.New("disk full")

	done := script(func() {
		tl.peer.Transmit(testHeader, testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.ErrorIs(t, err, ErrSaveFailed)
	require.NotNil(t, s)
	assert.True(t, s.Complete)
	assert.Equal(t, Idle, tl.rx.State())
}

// ===========================================================================
// Frame errors
// ===========================================================================

func TestReceiveSession_RetryThenAccept(t *testing.T) {
	const retries = 3
	tl := newTestLink(t, WithMaxRetriesPerFrame(retries))

	done := script(func() {
		tl.peer.Handshake()

		good := mustFrame(t, 1, testHeader)
		naks := 0
		for range retries {
			if tl.peer.SendFrame(testutil.Corrupt(good)) == frame.NAK {
				naks++
			}
		}
		assert.Equal(t, retries, naks)
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(good))

		assert.Eventually(t, func() bool { return tl.rx.State() == ReceivingFrames }, time.Second, 5*time.Millisecond)
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	require.Len(t, s.Records, 1)
	assert.Equal(t, record.TypeHeader, s.Records[0].Type())

	m := tl.rx.Metrics().Snapshot()
	assert.Equal(t, uint64(retries), m.FrameErrors)
	assert.Equal(t, uint64(1), m.Frames)
	assert.Equal(t, uint64(1), m.Records)

	rejected := tl.events.kinds(EventFrameRejected)
	require.Len(t, rejected, retries)
	assert.Equal(t, 1, rejected[0].Seq)
	assert.ErrorIs(t, rejected[0].Err, frame.ErrChecksumMismatch)
}

func TestReceiveSession_RetryCounterResetsOnValidFrame(t *testing.T) {
	tl := newTestLink(t, WithMaxRetriesPerFrame(1))

	done := script(func() {
		tl.peer.Handshake()
		h := mustFrame(t, 1, testHeader)
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(testutil.Corrupt(h)))
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(h))

		l := mustFrame(t, 2, testTerminator)
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(testutil.Corrupt(l)))
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(l))
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.True(t, s.Complete)
}

func TestReceiveSession_RetryLimitExceeded(t *testing.T) {
	tl := newTestLink(t, WithMaxRetriesPerFrame(2))

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.SendRecord(testHeader)

		bad := testutil.Corrupt(mustFrame(t, 2, testResult))
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(bad))
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(bad))
		// The third failure aborts without an answer.
		tl.peer.Write(bad...)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.ErrorIs(t, err, ErrRetryLimitExceeded)
	assert.ErrorIs(t, err, frame.ErrChecksumMismatch)

	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Same(t, s, serr.Session)

	require.NotNil(t, s)
	assert.False(t, s.Complete)
	assert.Len(t, s.Records, 1)
	assert.NotEmpty(t, s.AbortReason)

	assert.Equal(t, Aborted, tl.rx.State())
	require.Len(t, tl.sink.all(), 1)
	assert.Equal(t, uint64(1), tl.rx.Metrics().Snapshot().SessionsAborted)

	_, err = tl.rx.ReceiveSession(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}

func TestReceiveSession_DuplicateFrame(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Handshake()
		h := mustFrame(t, 1, testHeader)
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(h))
		// The sender missed our ACK and repeats the frame.
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(h))
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(mustFrame(t, 2, testTerminator)))
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 2)
	assert.True(t, s.Complete)

	m := tl.rx.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.FrameDuplicates)
	assert.Equal(t, uint64(2), m.Records)

	dups := tl.events.kinds(EventFrameDuplicate)
	require.Len(t, dups, 1)
	assert.Equal(t, 1, dups[0].Seq)
}

func TestReceiveSession_FirstFrameNumberNotOne(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Handshake()
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(mustFrame(t, 5, testHeader)))
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(mustFrame(t, 6, testTerminator)))
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 2)
}

func TestReceiveSession_OversizedFrame(t *testing.T) {
	tl := newTestLink(t, WithMaxFrameSize(32))

	done := script(func() {
		tl.peer.Handshake()
		big := mustFrame(t, 1, testHeader+strings.Repeat("|", 40))
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(big))

		tl.peer.WithMaxPayload(20)
		tl.peer.SendRecord(testHeader)
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	require.Len(t, s.Records, 1)

	rejected := tl.events.kinds(EventFrameRejected)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, frame.ErrTruncated)
}

func TestReceiveSession_StrayByteBetweenFrames(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.Write('x')
		tl.peer.Expect(frame.NAK)
		tl.peer.SendRecord(testHeader)
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 1)

	rejected := tl.events.kinds(EventFrameRejected)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, ErrUnexpectedByte)
	assert.ErrorIs(t, rejected[0].Err, frame.ErrMalformedDelimiters)

	stray := tl.events.kinds(EventStrayByte)
	require.Len(t, stray, 1)
	assert.Equal(t, byte('x'), stray[0].Byte)
}

func TestReceiveSession_IgnoreStrayBytes(t *testing.T) {
	tl := newTestLink(t, WithIgnoreStrayBytes(true))

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.Write('\n', 'x')
		tl.peer.SendRecord(testHeader)
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 1)

	m := tl.rx.Metrics().Snapshot()
	assert.Equal(t, uint64(2), m.StrayBytes)
	assert.Zero(t, m.FrameErrors)
}

func TestReceiveSession_StrayBytesWhileIdle(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Write(frame.ACK, 'z')
		tl.peer.Transmit(testHeader, testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.True(t, s.Complete)
	assert.Equal(t, uint64(2), tl.rx.Metrics().Snapshot().StrayBytes)
}

// ===========================================================================
// Record errors
// ===========================================================================

func TestReceiveSession_UnknownRecordSkipped(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Transmit(testHeader, "X|foo|bar", testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)

	assert.True(t, s.Complete)
	require.Len(t, s.Records, 2)
	assert.Equal(t, record.TypeHeader, s.Records[0].Type())
	assert.Equal(t, record.TypeTerminator, s.Records[1].Type())
	assert.Equal(t, 1, s.Skipped)

	skipped := tl.events.kinds(EventRecordSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "X|foo|bar", skipped[0].Text)
	assert.Equal(t, record.Type('X'), skipped[0].Record)
	assert.ErrorIs(t, skipped[0].Err, record.ErrUnknownRecordType)
}

func TestReceiveSession_OrderingSkips(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		wantErr error
		wantLen int
	}{
		{"before header", []string{testResult, testHeader, testTerminator}, session.ErrRecordBeforeHeader, 2},
		{"duplicate header", []string{testHeader, testHeader, testTerminator}, session.ErrDuplicateHeader, 2},
		{"after terminator", []string{testHeader, testTerminator, testResult}, session.ErrRecordAfterTerminator, 2},
		{"decode error", []string{testHeader, "P|abc", testTerminator}, record.ErrFieldParseFailure, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := newTestLink(t)
			done := script(func() {
				tl.peer.Transmit(tt.records...)
			})

			s, err := tl.rx.ReceiveSession(context.Background())
			wait(t, done)
			require.NoError(t, err)
			assert.Len(t, s.Records, tt.wantLen)
			assert.Equal(t, 1, s.Skipped)

			skipped := tl.events.kinds(EventRecordSkipped)
			require.Len(t, skipped, 1)
			assert.ErrorIs(t, skipped[0].Err, tt.wantErr)
		})
	}
}

func TestReceiveSession_RecordTooLarge(t *testing.T) {
	tl := newTestLink(t, WithMaxRecordSize(MinRecordSize))

	done := script(func() {
		tl.peer.Transmit(testHeader, "C|1|I|"+strings.Repeat("x", 400)+"|G", testTerminator)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 2)
	assert.True(t, s.Complete)

	skipped := tl.events.kinds(EventRecordSkipped)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, ErrRecordTooLarge)
}

func TestReceiveSession_IncompleteRecordAtEOT(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.SendRecord(testHeader)
		f := frame.Frame{Seq: 2, Payload: []byte("C|1|I|cut"), Final: false}
		assert.Equal(t, frame.ACK, tl.peer.SendFrame(f.Pack()))
		tl.peer.EOT()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Len(t, s.Records, 1)
	assert.Equal(t, 1, s.Skipped)

	skipped := tl.events.kinds(EventRecordSkipped)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, ErrIncompleteRecord)
}

func TestReceiveSession_HeaderDelimiters(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Transmit(`H!@#$!!!Analyzer#ESR`, `R!1!###ESR!15!mm/h`, `L!1!N`)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	require.Len(t, s.Results(), 1)
	assert.Equal(t, "15", s.Results()[0].Value)
	assert.True(t, s.Complete)
}

// ===========================================================================
// Aborts
// ===========================================================================

func TestReceiveSession_MidFrameTimeout(t *testing.T) {
	tl := newTestLink(t, WithFrameTimeout(50*time.Millisecond))

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.SendRecord(testHeader)
		tl.peer.Write(frame.STX, '2', 'P', '|')
		// Best-effort NAK before the receiver gives up.
		tl.peer.Expect(frame.NAK)
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Timeout)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	assert.Equal(t, Aborted, tl.rx.State())

	saved := tl.sink.all()
	require.Len(t, saved, 1)
	assert.Same(t, s, saved[0])
	assert.False(t, s.Complete)
	require.Len(t, s.Records, 1)
	assert.Equal(t, record.TypeHeader, s.Records[0].Type())
}

func TestReceiveSession_InterFrameTimeout(t *testing.T) {
	tl := newTestLink(t, WithInterFrameTimeout(50*time.Millisecond))

	done := script(func() {
		tl.peer.Handshake()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Timeout)
	require.NotNil(t, s)
	assert.Empty(t, s.Records)
	assert.Equal(t, Aborted, tl.rx.State())
}

func TestReceiveSession_PortClosed(t *testing.T) {
	tl := newTestLink(t)

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.SendRecord(testHeader)
		_ = tl.peer.Conn().Close()
	})

	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	assert.ErrorIs(t, err, transport.ErrClosed)
	require.NotNil(t, s)
	assert.Len(t, s.Records, 1)
	assert.Equal(t, Aborted, tl.rx.State())
}

func TestReceiveSession_PortClosedWhileIdle(t *testing.T) {
	tl := newTestLink(t)
	_ = tl.peer.Conn().Close()

	s, err := tl.rx.ReceiveSession(context.Background())
	assert.Nil(t, s)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.Equal(t, Aborted, tl.rx.State())
	assert.Empty(t, tl.sink.all())
}

func TestReceiveSession_CancelWhileIdle(t *testing.T) {
	tl := newTestLink(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s, err := tl.rx.ReceiveSession(ctx)
	assert.Nil(t, s)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Idle, tl.rx.State())
	assert.Empty(t, tl.sink.all())
}

func TestReceiveSession_CancelMidSession(t *testing.T) {
	tl := newTestLink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := script(func() {
		tl.peer.Handshake()
		tl.peer.SendRecord(testHeader)
		cancel()
	})

	s, err := tl.rx.ReceiveSession(ctx)
	wait(t, done)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, s)
	assert.False(t, s.Complete)
	assert.Len(t, s.Records, 1)
	assert.Equal(t, Aborted, tl.rx.State())

	require.Len(t, tl.sink.all(), 1)
	// The sink runs on a context detached from the canceled one.
	assert.NoError(t, tl.sink.ctxErrs[0])
}

func TestReceiver_Reset(t *testing.T) {
	tl := newTestLink(t, WithInterFrameTimeout(50*time.Millisecond))

	done := script(func() { tl.peer.Handshake() })
	_, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.Error(t, err)
	require.Equal(t, Aborted, tl.rx.State())

	port, peer := newTestPort(t)
	tl.rx.Reset(port)
	assert.Equal(t, Idle, tl.rx.State())

	done = script(func() { peer.Transmit(testHeader, testTerminator) })
	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.ID)
	assert.True(t, s.Complete)
}

// ===========================================================================
// Handshake rejection and Run
// ===========================================================================

func TestReceiveSession_HandshakeRejected(t *testing.T) {
	tl := newTestLink(t, WithRejectHandshakeAfter(1))

	done := script(func() {
		tl.peer.Handshake()
		bad := testutil.Corrupt(mustFrame(t, 1, testHeader))
		assert.Equal(t, frame.NAK, tl.peer.SendFrame(bad))
		tl.peer.EOT()
	})
	_, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)

	done = script(func() {
		tl.peer.Write(frame.ENQ)
		tl.peer.Expect(frame.NAK)
	})
	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Nil(t, s)
	assert.Equal(t, Idle, tl.rx.State())

	// The error count starts over after a rejection.
	done = script(func() { tl.peer.Transmit(testHeader, testTerminator) })
	s, err = tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.True(t, s.Complete)

	m := tl.rx.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.HandshakeRejects)
	assert.Equal(t, uint64(2), m.Handshakes)
}

func TestReceiver_Run(t *testing.T) {
	tl := newTestLink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := script(func() {
		tl.peer.Transmit(testHeader, testResult, testTerminator)
		tl.peer.Transmit(testHeader, testTerminator)
		assert.Eventually(t, func() bool { return len(tl.sink.all()) == 2 }, time.Second, 5*time.Millisecond)
		cancel()
	})

	err := tl.rx.Run(ctx)
	wait(t, done)
	require.ErrorIs(t, err, context.Canceled)

	saved := tl.sink.all()
	require.Len(t, saved, 2)
	assert.Equal(t, uint64(1), saved[0].ID)
	assert.Equal(t, uint64(2), saved[1].ID)
	assert.Len(t, saved[0].Records, 3)
}

func TestReceiver_RunStopsOnAbort(t *testing.T) {
	tl := newTestLink(t, WithInterFrameTimeout(50*time.Millisecond))

	done := script(func() { tl.peer.Handshake() })

	err := tl.rx.Run(context.Background())
	wait(t, done)

	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, Aborted, tl.rx.State())
}

func TestNewReceiver_FirstSessionID(t *testing.T) {
	tl := newTestLink(t, WithFirstSessionID(41))

	done := script(func() { tl.peer.Transmit(testHeader, testTerminator) })
	s, err := tl.rx.ReceiveSession(context.Background())
	wait(t, done)
	require.NoError(t, err)
	assert.Equal(t, uint64(41), s.ID)

	accepted := tl.events.kinds(EventHandshakeAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, uint64(41), accepted[0].Session)
	assert.Equal(t, "test", accepted[0].Link)
}

func TestNewReceiver_NilConfig(t *testing.T) {
	port, _ := newTestPort(t)
	rx := NewReceiver(port, nil, nil)

	require.NotNil(t, rx.Config())
	assert.Equal(t, DefaultFrameTimeout, rx.Config().FrameTimeout())
	assert.Equal(t, Idle, rx.State())
}
