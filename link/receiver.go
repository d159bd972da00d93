package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-astm/frame"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

// sinkTimeout bounds a sink call, which also runs after the caller's context is canceled.
const sinkTimeout = 30 * time.Second

// Receiver is the receiving side of an ASTM E1381 link.
//
// It is driven by a single goroutine calling ReceiveSession or Run. State and
// Metrics may be read from other goroutines.
type Receiver struct {
	cfg    *Config
	port   transport.Port
	sink   session.Sink
	agg    *session.Aggregator
	dec    *record.Decoder
	logger logger.Logger

	state   AtomicState
	metrics Metrics

	// frameErrors counts invalid frames since the port was opened.
	frameErrors int
	sessionID   uint64
}

// rxState is the frame loop state of one session.
type rxState struct {
	lastSeq  int // -1 until the first valid frame
	failures int // consecutive invalid frames
	text     []byte
	overflow bool // discarding the rest of an oversized record
}

// NewReceiver creates a receiver reading from port. Finished and aborted
// sessions are handed to sink, which may be nil. A nil cfg uses the defaults.
func NewReceiver(port transport.Port, sink session.Sink, cfg *Config) *Receiver {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	l := cfg.logger
	if cfg.name != "" {
		l = l.With("link", cfg.name)
	}

	return &Receiver{
		cfg:  cfg,
		port: port,
		sink: sink,
		agg: session.NewAggregator(
			session.WithLink(cfg.name),
			session.WithFirstID(cfg.firstSessionID),
		),
		dec:    record.NewDecoder(cfg.delimiters, cfg.fixedDelimiters),
		logger: l,
	}
}

// Config returns the receiver configuration.
func (r *Receiver) Config() *Config { return r.cfg }

// State returns the current link state.
func (r *Receiver) State() State { return r.state.Get() }

// Metrics returns the receiver counters.
func (r *Receiver) Metrics() *Metrics { return &r.metrics }

// Reset replaces the port and returns an aborted receiver to Idle. The frame
// error count used for handshake rejection starts over. Reset must not be
// called while ReceiveSession is running.
func (r *Receiver) Reset(port transport.Port) {
	if r.agg.Open() {
		if s, err := r.agg.Abort(errors.New("link: reset")); err == nil {
			r.logger.Warn("link: discarding open session on reset", "session", s.ID, "records", len(s.Records))
		}
	}

	r.port = port
	r.frameErrors = 0
	r.dec.Reset()
	r.state.Set(Idle)
}

// Run receives sessions until ctx is done or the receiver aborts.
//
// It returns ctx.Err() on cancellation and the *SessionError otherwise. Rejected
// handshakes and sink failures do not stop it.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		_, err := r.ReceiveSession(ctx)
		switch {
		case err == nil, errors.Is(err, ErrHandshakeRejected), errors.Is(err, ErrSaveFailed):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
	}
}

// ReceiveSession waits for ENQ and receives one transmission up to EOT.
//
// On success the finished session is returned after it was handed to the sink;
// a sink failure is returned as an error wrapping ErrSaveFailed together with
// the session. A failure after the handshake returns a *SessionError carrying
// the partial session and leaves the receiver Aborted. Cancellation while
// Idle returns ctx.Err() and leaves the receiver Idle.
func (r *Receiver) ReceiveSession(ctx context.Context) (*session.Session, error) {
	if r.state.IsAborted() {
		return nil, ErrAborted
	}

	if err := r.awaitHandshake(ctx); err != nil {
		return nil, err
	}

	return r.receiveFrames(ctx)
}

func (r *Receiver) awaitHandshake(ctx context.Context) error {
	r.state.Set(Idle)

	for {
		b, err := r.port.ReadByte(ctx, r.cfg.pollInterval)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			r.state.Set(Aborted)
			r.logger.Error("link: port failed while idle", "error", err)

			return newTransportError("await ENQ", err)
		}

		if b != frame.ENQ {
			r.logger.Debug("link: unexpected byte in idle state", "byte", frame.ControlName(b))
			r.emit(Event{Kind: EventStrayByte, Seq: -1, Byte: b})

			continue
		}

		return r.handshake()
	}
}

func (r *Receiver) handshake() error {
	if n := r.cfg.rejectHandshakeAfter; n > 0 && r.frameErrors >= n {
		if err := r.write(frame.NAK); err != nil {
			r.state.Set(Aborted)
			return newTransportError("write NAK", err)
		}

		r.logger.Warn("link: handshake rejected", "frameErrors", r.frameErrors, "threshold", n)
		r.frameErrors = 0
		r.emit(Event{Kind: EventHandshakeRejected, Seq: -1})

		return ErrHandshakeRejected
	}

	if err := r.write(frame.ACK); err != nil {
		r.state.Set(Aborted)
		return newTransportError("write ACK", err)
	}

	h, err := r.agg.Begin()
	if err != nil {
		r.violation(err)
		_, _ = r.agg.Abort(err)
		h, _ = r.agg.Begin()
	}

	r.sessionID = h.ID
	r.dec.Reset()
	r.state.Set(AwaitingFirstFrame)
	r.logger.Debug("link: handshake accepted", "session", h.ID)
	r.emit(Event{Kind: EventHandshakeAccepted, Seq: -1})

	return nil
}

func (r *Receiver) receiveFrames(ctx context.Context) (*session.Session, error) {
	rx := &rxState{lastSeq: -1}

	for {
		b, err := r.port.ReadByte(ctx, r.cfg.interFrameTimeout)
		if err != nil {
			return r.abort(ctx, newTransportError("await frame", err))
		}

		switch b {
		case frame.STX:
			if err := r.receiveFrame(ctx, rx); err != nil {
				return r.abort(ctx, err)
			}
		case frame.EOT:
			return r.closeSession(ctx, rx)
		default:
			if err := r.unexpectedByte(rx, b); err != nil {
				return r.abort(ctx, err)
			}
		}
	}
}

// receiveFrame reads the rest of a frame after STX, answers it and collects
// its text. A returned error aborts the session.
func (r *Receiver) receiveFrame(ctx context.Context, rx *rxState) error {
	raw, err := r.readFrame(ctx)

	var terr *TransportError
	if errors.As(err, &terr) {
		// Partial frame is discarded; the NAK is best effort.
		_ = r.write(frame.NAK)
		return terr
	}

	var f *frame.Frame
	if err == nil {
		f, err = frame.Decode(raw)
	}

	if err != nil {
		if errors.Is(err, frame.ErrTruncated) {
			if derr := r.drain(ctx); derr != nil {
				return derr
			}
		}

		return r.rejectFrame(rx, seqOf(raw), err)
	}

	rx.failures = 0
	seq := int(f.Seq)

	if rx.lastSeq >= 0 && seq != int(frame.NextSeq(uint8(rx.lastSeq))) {
		// The sender repeats a frame when our ACK was lost; any other
		// unexpected number is answered the same way and not dispatched.
		if err := r.write(frame.ACK); err != nil {
			return newTransportError("write ACK", err)
		}

		r.logger.Warn("link: duplicate frame acknowledged", "seq", seq, "expected", frame.NextSeq(uint8(rx.lastSeq)))
		r.emit(Event{Kind: EventFrameDuplicate, Seq: seq})

		return nil
	}

	if rx.lastSeq < 0 && seq != 1 {
		r.logger.Warn("link: first frame number is not 1", "seq", seq)
	}

	if err := r.write(frame.ACK); err != nil {
		return newTransportError("write ACK", err)
	}

	rx.lastSeq = seq
	r.state.Set(ReceivingFrames)
	r.logger.Debug("link: frame accepted", "seq", seq, "final", f.Final, "size", len(f.Payload))
	r.emit(Event{Kind: EventFrameAccepted, Seq: seq})

	r.collect(rx, f)

	return nil
}

// readFrame reads from after STX through the trailing LF. Read failures are
// returned as *TransportError, an oversized frame as frame.ErrTruncated.
func (r *Receiver) readFrame(ctx context.Context) ([]byte, error) {
	raw := make([]byte, 1, 64)
	raw[0] = frame.STX

	for {
		b, err := r.port.ReadByte(ctx, r.cfg.frameTimeout)
		if err != nil {
			return raw, newTransportError("read frame", err)
		}

		raw = append(raw, b)
		if frame.IsTerminator(b) {
			break
		}

		// Terminator, checksum, CR and LF must still fit.
		if len(raw)+5 > r.cfg.maxFrameSize {
			return raw, fmt.Errorf("%w: frame exceeds %d bytes", frame.ErrTruncated, r.cfg.maxFrameSize)
		}
	}

	for range 4 {
		b, err := r.port.ReadByte(ctx, r.cfg.frameTimeout)
		if err != nil {
			return raw, newTransportError("read frame trailer", err)
		}

		raw = append(raw, b)
	}

	return raw, nil
}

// drain discards bytes until the line has been silent for the drain timeout.
func (r *Receiver) drain(ctx context.Context) error {
	for {
		_, err := r.port.ReadByte(ctx, r.cfg.drainTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}

		if err != nil {
			return newTransportError("drain", err)
		}
	}
}

// rejectFrame answers an invalid frame with NAK, or fails once the retry budget is spent.
func (r *Receiver) rejectFrame(rx *rxState, seq int, cause error) error {
	rx.failures++
	r.frameErrors++
	r.emit(Event{Kind: EventFrameRejected, Seq: seq, Err: cause})

	if rx.failures > r.cfg.maxRetries {
		return fmt.Errorf("%w: %d consecutive failures: %w", ErrRetryLimitExceeded, rx.failures, cause)
	}

	r.logger.Warn("link: frame rejected", "seq", seq, "attempt", rx.failures, "error", cause)

	if err := r.write(frame.NAK); err != nil {
		return newTransportError("write NAK", err)
	}

	return nil
}

func (r *Receiver) unexpectedByte(rx *rxState, b byte) error {
	r.emit(Event{Kind: EventStrayByte, Seq: -1, Byte: b})

	if r.cfg.ignoreStrayBytes {
		r.logger.Debug("link: stray byte ignored", "byte", frame.ControlName(b))
		return nil
	}

	cause := fmt.Errorf("%w %s: %w", ErrUnexpectedByte, frame.ControlName(b), frame.ErrMalformedDelimiters)

	return r.rejectFrame(rx, -1, cause)
}

// collect appends frame text to the record buffer and dispatches the records
// once a final frame completes them.
func (r *Receiver) collect(rx *rxState, f *frame.Frame) {
	if rx.overflow {
		rx.overflow = !f.Final
		return
	}

	if len(rx.text)+len(f.Payload) > r.cfg.maxRecordSize {
		r.skipRecord(string(rx.text), fmt.Errorf("%w: over %d bytes", ErrRecordTooLarge, r.cfg.maxRecordSize))
		rx.text = nil
		rx.overflow = !f.Final

		return
	}

	rx.text = append(rx.text, f.Payload...)
	if !f.Final {
		return
	}

	text := rx.text
	rx.text = nil

	for _, line := range bytes.Split(text, []byte{r.cfg.recordTerminator}) {
		s := strings.Trim(string(line), "\r\n")
		if s == "" {
			continue
		}

		r.dispatch(s)
	}
}

func (r *Receiver) dispatch(text string) {
	rec, err := r.dec.Decode(text)
	if err != nil {
		r.skipRecord(text, err)
		return
	}

	switch {
	case rec.Type() != record.TypeHeader && !r.agg.HasHeader():
		r.skipRecord(text, session.ErrRecordBeforeHeader)
		return
	case rec.Type() == record.TypeHeader && r.agg.HasHeader():
		r.skipRecord(text, session.ErrDuplicateHeader)
		return
	case r.agg.Terminated():
		r.skipRecord(text, session.ErrRecordAfterTerminator)
		return
	}

	if err := r.agg.Append(rec); err != nil {
		r.violation(err)
		return
	}

	r.logger.Debug("link: record accepted", "type", rec.Type().String())
	r.emit(Event{Kind: EventRecordAccepted, Seq: -1, Record: rec.Type(), Text: text})
}

func (r *Receiver) skipRecord(text string, cause error) {
	var rt record.Type
	if text != "" {
		rt = record.Type(text[0])
	}

	r.agg.Skip()
	r.logger.Warn("link: record skipped", "type", rt.String(), "error", cause)
	r.emit(Event{Kind: EventRecordSkipped, Seq: -1, Record: rt, Text: text, Err: cause})
}

func (r *Receiver) closeSession(ctx context.Context, rx *rxState) (*session.Session, error) {
	if len(rx.text) > 0 || rx.overflow {
		r.skipRecord(string(rx.text), ErrIncompleteRecord)
	}

	if r.cfg.ackOnEOT {
		if err := r.write(frame.ACK); err != nil {
			r.logger.Warn("link: failed to acknowledge EOT", "error", err)
		}
	}

	r.state.Set(SessionClosed)

	s, err := r.agg.Finalize()
	if err != nil {
		r.violation(err)
		r.state.Set(Idle)

		return nil, err
	}

	r.logger.Info("link: session closed",
		"session", s.ID,
		"records", len(s.Records),
		"skipped", s.Skipped,
		"complete", s.Complete,
	)
	r.emit(Event{Kind: EventSessionClosed, Seq: -1})

	saveErr := r.save(ctx, s)
	r.state.Set(Idle)

	if saveErr != nil {
		r.logger.Error("link: failed to save session", "session", s.ID, "error", saveErr)
		return s, fmt.Errorf("%w: %w", ErrSaveFailed, saveErr)
	}

	return s, nil
}

// abort moves to Aborted and hands the partial session to the sink.
func (r *Receiver) abort(ctx context.Context, cause error) (*session.Session, error) {
	r.state.Set(Aborted)

	s, err := r.agg.Abort(cause)
	if err != nil {
		r.violation(err)
	}

	r.logger.Error("link: session aborted", "session", r.sessionID, "error", cause)
	r.emit(Event{Kind: EventSessionAborted, Seq: -1, Err: cause})

	if s != nil {
		if err := r.save(ctx, s); err != nil {
			r.logger.Error("link: failed to save partial session", "session", s.ID, "error", err)
		}
	}

	return s, &SessionError{Session: s, Err: cause}
}

func (r *Receiver) save(ctx context.Context, s *session.Session) error {
	if r.sink == nil {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	return r.sink.Save(saveCtx, s)
}

// violation handles a broken ordering invariant: a bug in this package, not
// bad input.
func (r *Receiver) violation(err error) {
	if r.cfg.strict {
		panic(fmt.Errorf("link: protocol violation: %w", err))
	}

	r.logger.Error("link: protocol violation", "error", err)
}

func (r *Receiver) write(b byte) error {
	if _, err := r.port.Write([]byte{b}); err != nil {
		return err
	}

	r.logger.Debug("link: sent", "byte", frame.ControlName(b))

	return nil
}

func (r *Receiver) emit(ev Event) {
	ev.Time = time.Now()
	ev.Link = r.cfg.name
	ev.Session = r.sessionID

	r.metrics.countEvent(ev.Kind)

	if r.cfg.observer != nil {
		r.cfg.observer.OnEvent(ev)
	}
}

// seqOf returns the frame number digit of a raw frame, or -1.
func seqOf(raw []byte) int {
	if len(raw) > 1 && raw[1] >= '0' && raw[1] <= '0'+frame.MaxSeq {
		return int(raw[1] - '0')
	}

	return -1
}
