// Package transport provides the byte-stream ports the ASTM link layer reads from
// and writes to.
//
// A Port offers exactly three things: a timeout-bounded single byte read that also
// observes context cancellation, a write, and a liveness signal. Stream adapts any
// io.ReadWriteCloser (a serial device, a TCP connection, one end of net.Pipe) to Port.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/arloliu/go-astm/internal/pool"
)

var (
	// ErrTimeout is returned by ReadByte when no byte arrives within the timeout.
	ErrTimeout = errors.New("transport: read timeout")
	// ErrClosed is returned once the port is closed or the underlying stream has ended.
	ErrClosed = errors.New("transport: port closed")
)

// Port is a half-duplex byte stream.
//
// ReadByte is not safe for concurrent use; the link layer is its single reader.
type Port interface {
	// ReadByte waits up to timeout for the next byte. It returns ErrTimeout when the
	// timeout elapses, ctx.Err() when ctx is done first, and an error wrapping
	// ErrClosed when the stream has ended.
	ReadByte(ctx context.Context, timeout time.Duration) (byte, error)
	// Write writes p to the stream.
	Write(p []byte) (int, error)
	// Close closes the port and releases a pending ReadByte.
	Close() error
	// Done is closed when the port is closed or the stream has ended.
	Done() <-chan struct{}
}

const readChunkSize = 256

// Stream is a Port over an io.ReadWriteCloser.
//
// A background goroutine reads the stream and hands chunks to ReadByte, so reads
// are bounded by timers instead of deadlines and work with streams that have none.
type Stream struct {
	name string
	rwc  io.ReadWriteCloser

	chunks  chan []byte
	pending []byte

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	writeMu sync.Mutex
}

var _ Port = (*Stream)(nil)

// NewStream starts reading rwc and returns a Port for it. name is used in errors and logs.
func NewStream(name string, rwc io.ReadWriteCloser) *Stream {
	s := &Stream{
		name:   name,
		rwc:    rwc,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	go s.pump()

	return s
}

// Name returns the name the stream was created with.
func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) pump() {
	for {
		buf := make([]byte, readChunkSize)

		n, err := s.rwc.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			s.finish(err)

			return
		}
	}
}

func (s *Stream) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

// Err returns the reason the stream ended, or nil while it is alive.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

func (s *Stream) ReadByte(ctx context.Context, timeout time.Duration) (byte, error) {
	if len(s.pending) > 0 {
		return s.next(), nil
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timer := pool.AcquireTimer(timeout)
	defer pool.ReleaseTimer(timer)

	select {
	case chunk := <-s.chunks:
		s.pending = chunk
		return s.next(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, ErrTimeout
	case <-s.done:
		// Bytes read before the stream ended are still delivered.
		select {
		case chunk := <-s.chunks:
			s.pending = chunk
			return s.next(), nil
		default:
		}

		return 0, s.closedErr()
	}
}

func (s *Stream) next() byte {
	b := s.pending[0]
	s.pending = s.pending[1:]

	return b
}

func (s *Stream) closedErr() error {
	err := s.Err()
	if err == nil || errors.Is(err, ErrClosed) {
		return ErrClosed
	}

	return errors.Join(ErrClosed, err)
}

func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, s.closedErr()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for written := 0; written < len(p); {
		n, err := s.rwc.Write(p[written:])
		written += n

		if err != nil {
			return written, err
		}
	}

	return len(p), nil
}

func (s *Stream) Close() error {
	s.finish(ErrClosed)
	return s.rwc.Close()
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}
