// Package testutil provides a scripted ASTM sender for tests.
package testutil

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arloliu/go-astm/frame"
)

// DefaultTimeout bounds every read and write of a Peer.
const DefaultTimeout = 2 * time.Second

// Peer plays the sending instrument on one end of a connection.
//
// Peer methods report failures with assert, so they are safe to call from a
// goroutine other than the test goroutine.
type Peer struct {
	t          testing.TB
	conn       net.Conn
	seq        uint8
	maxPayload int
	timeout    time.Duration
}

// NewPeer creates a peer writing to conn.
func NewPeer(t testing.TB, conn net.Conn) *Peer {
	return &Peer{t: t, conn: conn, seq: 1, maxPayload: frame.MaxPayloadSize, timeout: DefaultTimeout}
}

// Pipe returns a connected pair: the local end for the receiver and a Peer on the remote end.
func Pipe(t testing.TB) (net.Conn, *Peer) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return local, NewPeer(t, remote)
}

// WithMaxPayload sets the frame text size used by SendRecord.
func (p *Peer) WithMaxPayload(n int) *Peer {
	p.maxPayload = n
	return p
}

// Conn returns the underlying connection.
func (p *Peer) Conn() net.Conn { return p.conn }

// Seq returns the number of the next frame.
func (p *Peer) Seq() uint8 { return p.seq }

// Write sends raw bytes.
func (p *Peer) Write(data ...byte) bool {
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	_, err := p.conn.Write(data)

	return assert.NoError(p.t, err, "peer write")
}

// Read returns the next byte sent by the receiver.
func (p *Peer) Read() (byte, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(p.timeout))

	var buf [1]byte
	if _, err := io.ReadFull(p.conn, buf[:]); err != nil {
		return 0, err
	}

	return buf[0], nil
}

// Expect reads one byte and checks it is want.
func (p *Peer) Expect(want byte) bool {
	got, err := p.Read()
	if !assert.NoError(p.t, err, "peer read, want %s", frame.ControlName(want)) {
		return false
	}

	return assert.Equal(p.t, frame.ControlName(want), frame.ControlName(got))
}

// Handshake sends ENQ, expects ACK and restarts frame numbering at 1.
func (p *Peer) Handshake() bool {
	p.seq = 1
	return p.Write(frame.ENQ) && p.Expect(frame.ACK)
}

// SendFrame writes a raw frame and returns the reply.
func (p *Peer) SendFrame(raw []byte) byte {
	if !p.Write(raw...) {
		return 0
	}

	b, err := p.Read()
	assert.NoError(p.t, err, "peer read frame reply")

	return b
}

// SendRecord sends text followed by CR as one or more frames and expects each to be acknowledged.
func (p *Peer) SendRecord(text string) bool {
	frames, err := frame.Split([]byte(text+"\r"), p.seq, p.maxPayload)
	if !assert.NoError(p.t, err) {
		return false
	}

	for _, f := range frames {
		if reply := p.SendFrame(f.Pack()); !assert.Equal(p.t, "ACK", frame.ControlName(reply), "frame %d", f.Seq) {
			return false
		}
		p.seq = frame.NextSeq(p.seq)
	}

	return true
}

// EOT ends the transmission.
func (p *Peer) EOT() bool {
	return p.Write(frame.EOT)
}

// Transmit sends a complete transmission: handshake, one frame per record, EOT.
func (p *Peer) Transmit(records ...string) bool {
	if !p.Handshake() {
		return false
	}

	for _, rec := range records {
		if !p.SendRecord(rec) {
			return false
		}
	}

	return p.EOT()
}

// Corrupt returns a copy of a packed frame with one checksum digit changed.
func Corrupt(raw []byte) []byte {
	bad := append([]byte(nil), raw...)
	i := len(bad) - 4
	if bad[i] == '0' {
		bad[i] = '1'
	} else {
		bad[i] = '0'
	}

	return bad
}
