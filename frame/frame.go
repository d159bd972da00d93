package frame

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-astm/internal/util"
)

// MaxPayloadSize is the maximum number of text bytes a sender puts in one frame.
// Per ASTM E1381 §6.3.1, a frame carries at most 240 characters of message text;
// longer records are split into intermediate (ETB) frames and a final (ETX) frame.
const MaxPayloadSize = 240

// MaxFrameSize is the largest frame a conforming sender produces:
// STX + FN + 240 text + ETX/ETB + C1 C2 + CR LF.
const MaxFrameSize = 247

// frameOverhead is STX, FN, terminator, two checksum chars, CR and LF.
const frameOverhead = 7

// MaxSeq is the largest frame number; frame numbers cycle 0..7.
const MaxSeq = 7

// ASTM E1381 control characters.
const (
	// ENQ is sent by the sender to request the line (establishment phase).
	ENQ byte = 0x05

	// ACK accepts an establishment request or a frame.
	ACK byte = 0x06

	// NAK rejects an establishment request or a frame.
	NAK byte = 0x15

	// EOT ends a transmission and returns the line to neutral.
	EOT byte = 0x04

	// STX starts a frame.
	STX byte = 0x02

	// ETX terminates the final frame of a record.
	ETX byte = 0x03

	// ETB terminates an intermediate frame of a record.
	ETB byte = 0x17

	// CR terminates a record inside the message text and precedes LF in the frame trailer.
	CR byte = 0x0D

	// LF ends every frame.
	LF byte = 0x0A
)

// Sentinel errors returned by Decode.
var (
	ErrMalformedDelimiters = errors.New("frame: malformed delimiters")
	ErrChecksumMismatch    = errors.New("frame: checksum mismatch")
	ErrTruncated           = errors.New("frame: truncated")
	ErrInvalidSeq          = errors.New("frame: invalid frame number")
)

// Frame is a single link-layer transfer unit.
//
// On the wire a frame is: STX FN text ETX|ETB C1 C2 CR LF, where FN is the
// ASCII frame number and C1 C2 the checksum in uppercase hex.
type Frame struct {
	Seq     uint8  // frame number, 0-7
	Payload []byte // message text
	Final   bool   // true: ETX (record ends in this frame), false: ETB (continued)
}

// Terminator returns the end-of-frame byte for the frame, ETX or ETB.
func (f *Frame) Terminator() byte {
	if f.Final {
		return ETX
	}

	return ETB
}

// Checksum computes the frame checksum: the modulo-256 sum of the frame number,
// the text, and the terminator byte. STX is not included.
func (f *Frame) Checksum() byte {
	sum := '0' + f.Seq
	sum += Checksum(f.Payload)
	sum += f.Terminator()

	return sum
}

// Pack serializes the frame to its wire format.
func (f *Frame) Pack() []byte {
	buf := make([]byte, 0, len(f.Payload)+frameOverhead)
	buf = append(buf, STX, '0'+f.Seq)
	buf = append(buf, f.Payload...)
	buf = append(buf, f.Terminator())
	buf = appendHex(buf, f.Checksum())

	return append(buf, CR, LF)
}

// Checksum returns the unsigned 8-bit modulo sum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return sum
}

// NextSeq returns the frame number following seq, wrapping 7 -> 0.
func NextSeq(seq uint8) uint8 {
	return (seq + 1) & MaxSeq
}

// Encode wraps payload in a final (ETX) frame numbered seq.
//
// Encode returns ErrInvalidSeq if seq is not in 0..7.
func Encode(seq uint8, payload []byte) ([]byte, error) {
	if seq > MaxSeq {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeq, seq)
	}

	f := Frame{Seq: seq, Payload: payload, Final: true}

	return f.Pack(), nil
}

// Decode parses and validates a complete wire frame, from STX through LF.
//
// It returns ErrMalformedDelimiters when STX, the frame number, the terminator
// or the CR LF trailer are missing or misplaced, ErrTruncated when the frame ends
// before its trailer is complete, and ErrChecksumMismatch when the checksum field
// is not the uppercase hex rendering of the computed sum. A frame is either
// returned whole or not at all.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrTruncated)
	}

	if raw[0] != STX {
		return nil, fmt.Errorf("%w: first byte 0x%02X, want STX", ErrMalformedDelimiters, raw[0])
	}

	term := terminatorPos(raw)
	if term < 0 {
		return nil, fmt.Errorf("%w: no ETX or ETB", ErrTruncated)
	}

	if term < 2 {
		return nil, fmt.Errorf("%w: missing frame number", ErrMalformedDelimiters)
	}

	fn := raw[1]
	if fn < '0' || fn > '0'+MaxSeq {
		return nil, fmt.Errorf("%w: frame number 0x%02X", ErrMalformedDelimiters, fn)
	}

	// term + C1 C2 CR LF
	end := term + 5
	if len(raw) < end {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrTruncated, len(raw), end)
	}

	if len(raw) > end {
		return nil, fmt.Errorf("%w: %d trailing bytes after LF", ErrMalformedDelimiters, len(raw)-end)
	}

	if raw[term+3] != CR || raw[term+4] != LF {
		return nil, fmt.Errorf("%w: missing CR LF trailer", ErrMalformedDelimiters)
	}

	f := &Frame{
		Seq:     fn - '0',
		Payload: util.CloneSlice(raw[2:term], 0),
		Final:   raw[term] == ETX,
	}

	wire, ok := parseHex(raw[term+1], raw[term+2])
	calc := f.Checksum()
	if !ok || wire != calc {
		return nil, fmt.Errorf("%w: wire=%q, computed=%02X", ErrChecksumMismatch, raw[term+1:term+3], calc)
	}

	return f, nil
}

// Split cuts a logical record into frames of at most maxPayload text bytes,
// numbered from startSeq. All frames but the last are intermediate (ETB).
//
// A zero maxPayload means MaxPayloadSize. An empty record yields one empty final frame.
func Split(record []byte, startSeq uint8, maxPayload int) ([]*Frame, error) {
	if startSeq > MaxSeq {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeq, startSeq)
	}

	if maxPayload <= 0 {
		maxPayload = MaxPayloadSize
	}

	if len(record) == 0 {
		return []*Frame{{Seq: startSeq, Final: true}}, nil
	}

	frames := make([]*Frame, 0, (len(record)+maxPayload-1)/maxPayload)
	seq := startSeq

	for offset := 0; offset < len(record); offset += maxPayload {
		end := min(offset+maxPayload, len(record))
		frames = append(frames, &Frame{
			Seq:     seq,
			Payload: util.CloneSlice(record[offset:end], 0),
			Final:   end == len(record),
		})
		seq = NextSeq(seq)
	}

	return frames, nil
}

// IsTerminator reports whether b ends a frame (ETX or ETB).
func IsTerminator(b byte) bool {
	return b == ETX || b == ETB
}

// terminatorPos locates ETX or ETB. A frame ending in CR LF has its terminator
// at the fixed trailer offset, so terminator bytes inside the text are left to
// the checksum compare. Otherwise the first terminator is used.
func terminatorPos(raw []byte) int {
	n := len(raw)
	if n >= 7 && raw[n-2] == CR && raw[n-1] == LF && IsTerminator(raw[n-5]) {
		return n - 5
	}

	return indexTerminator(raw)
}

func indexTerminator(raw []byte) int {
	for i := 1; i < len(raw); i++ {
		if IsTerminator(raw[i]) {
			return i
		}
	}

	return -1
}

const hexDigits = "0123456789ABCDEF"

func appendHex(buf []byte, v byte) []byte {
	return append(buf, hexDigits[v>>4], hexDigits[v&0x0F])
}

// parseHex decodes two uppercase hex characters.
func parseHex(hi, lo byte) (byte, bool) {
	h, ok1 := hexValue(hi)
	l, ok2 := hexValue(lo)

	return h<<4 | l, ok1 && ok2
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// ControlName returns the mnemonic of a control character, or its hex value.
func ControlName(b byte) string {
	switch b {
	case ENQ:
		return "ENQ"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case EOT:
		return "EOT"
	case STX:
		return "STX"
	case ETX:
		return "ETX"
	case ETB:
		return "ETB"
	case CR:
		return "CR"
	case LF:
		return "LF"
	}

	return "0x" + string(hexDigits[b>>4]) + string(hexDigits[b&0x0F])
}
