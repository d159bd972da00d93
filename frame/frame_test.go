package frame

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Checksum ---

func TestChecksum_KnownFrame(t *testing.T) {
	// "1H|\^&" + ETX: '1'(0x31) + 'H'(0x48) + '|'(0x7C) + '\'(0x5C) + '^'(0x5E) + '&'(0x26) + 0x03
	f := Frame{Seq: 1, Payload: []byte(`H|\^&`), Final: true}

	want := byte((0x31 + 0x48 + 0x7C + 0x5C + 0x5E + 0x26 + 0x03) % 256)
	assert.Equal(t, want, f.Checksum())

	wire := f.Pack()
	assert.Equal(t, STX, wire[0])
	assert.Equal(t, byte('1'), wire[1])
	assert.Equal(t, ETX, wire[len(wire)-5])
	assert.Equal(t, []byte{CR, LF}, wire[len(wire)-2:])
	assert.Equal(t, string(hexDigits[want>>4])+string(hexDigits[want&0x0F]), string(wire[len(wire)-4:len(wire)-2]))
}

func TestChecksum_Wraps(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF}, 3)
	assert.Equal(t, byte(0xFD), Checksum(data))
	assert.Equal(t, byte(0), Checksum(nil))
}

func TestChecksum_IntermediateFrameUsesETB(t *testing.T) {
	final := Frame{Seq: 2, Payload: []byte("abc"), Final: true}
	inter := Frame{Seq: 2, Payload: []byte("abc"), Final: false}

	assert.Equal(t, final.Checksum()-ETX+ETB, inter.Checksum())
	assert.Equal(t, ETB, inter.Pack()[len(inter.Pack())-5])
}

// --- NextSeq ---

func TestNextSeq(t *testing.T) {
	want := []uint8{1, 2, 3, 4, 5, 6, 7, 0}
	for seq := uint8(0); seq <= MaxSeq; seq++ {
		assert.Equal(t, want[seq], NextSeq(seq))
	}
}

// --- Encode / Decode ---

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	payloads := [][]byte{
		{},
		[]byte("H|\\^&|||Alcor^iSED^1.0^123|||||||P|LIS2-A2|20250101120000\r"),
		[]byte("R|1|^^^ESR|15|mm/h||N||F||||01\r"),
		bytes.Repeat([]byte("x"), MaxPayloadSize),
	}

	// Random printable payloads.
	for i := 0; i < 50; i++ {
		p := make([]byte, rng.Intn(MaxPayloadSize))
		for j := range p {
			p[j] = byte(0x20 + rng.Intn(0x5F))
		}
		payloads = append(payloads, p)
	}

	for _, p := range payloads {
		for seq := uint8(0); seq <= MaxSeq; seq++ {
			wire, err := Encode(seq, p)
			require.NoError(t, err)

			f, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, seq, f.Seq)
			assert.Equal(t, len(p), len(f.Payload))
			assert.True(t, bytes.Equal(p, f.Payload))
			assert.True(t, f.Final)
		}
	}
}

func TestEncode_InvalidSeq(t *testing.T) {
	_, err := Encode(8, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSeq)
}

func TestDecode_PayloadIsCopied(t *testing.T) {
	wire, err := Encode(3, []byte("O|1|S1"))
	require.NoError(t, err)

	f, err := Decode(wire)
	require.NoError(t, err)

	wire[2] = 'X'
	assert.Equal(t, "O|1|S1", string(f.Payload))
}

func TestDecode_SingleByteMutationDetected(t *testing.T) {
	payload := []byte("R|1|^^^ESR^4537-7|15|mm/h||N||F||||01\r")

	for seq := uint8(0); seq <= MaxSeq; seq++ {
		wire, err := Encode(seq, payload)
		require.NoError(t, err)

		term := len(wire) - 5

		// Every position of the text and the checksum field, every other byte value,
		// including ETX and ETB inside the text.
		for pos := 2; pos < term+3; pos++ {
			if pos == term {
				continue
			}

			for v := 0; v < 256; v++ {
				repl := byte(v)
				if repl == wire[pos] {
					continue
				}

				mutated := append([]byte(nil), wire...)
				mutated[pos] = repl

				_, err := Decode(mutated)
				require.ErrorIs(t, err, ErrChecksumMismatch, "seq=%d pos=%d repl=0x%02X", seq, pos, repl)
			}
		}
	}
}

func TestDecode_LowercaseChecksumRejected(t *testing.T) {
	// Payload chosen so the checksum contains a hex letter.
	var wire []byte
	for i := 0; ; i++ {
		w, err := Encode(1, []byte{byte('A' + i%26), byte('a' + i/26)})
		require.NoError(t, err)
		c1, c2 := w[len(w)-4], w[len(w)-3]
		if (c1 >= 'A' && c1 <= 'F') || (c2 >= 'A' && c2 <= 'F') {
			wire = w
			break
		}
	}

	lower := bytes.ToLower(wire[len(wire)-4 : len(wire)-2])
	copy(wire[len(wire)-4:], lower)

	_, err := Decode(wire)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(1, []byte("L|1|N"))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"missing STX", valid[1:], ErrMalformedDelimiters},
		{"no terminator", valid[:5], ErrTruncated},
		{"terminator right after STX", []byte{STX, ETX, '0', '3', CR, LF}, ErrMalformedDelimiters},
		{"non-digit frame number", []byte{STX, 'X', 'a', ETX, '0', '0', CR, LF}, ErrMalformedDelimiters},
		{"frame number 8", []byte{STX, '8', 'a', ETX, '0', '0', CR, LF}, ErrMalformedDelimiters},
		{"checksum cut", valid[:len(valid)-3], ErrTruncated},
		{"missing LF", valid[:len(valid)-1], ErrTruncated},
		{"CR replaced", append(append([]byte(nil), valid[:len(valid)-2]...), 'x', LF), ErrMalformedDelimiters},
		{"trailing garbage", append(append([]byte(nil), valid...), 'z'), ErrMalformedDelimiters},
		{"non-hex checksum", append(append([]byte(nil), valid[:len(valid)-4]...), 'G', 'G', CR, LF), ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.raw)
			require.Error(t, err)
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

// --- Split ---

func TestSplit_LongRecord(t *testing.T) {
	record := bytes.Repeat([]byte("0123456789"), 50) // 500 bytes

	frames, err := Split(record, 6, 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, []uint8{6, 7, 0}, []uint8{frames[0].Seq, frames[1].Seq, frames[2].Seq})
	assert.False(t, frames[0].Final)
	assert.False(t, frames[1].Final)
	assert.True(t, frames[2].Final)
	assert.Len(t, frames[0].Payload, MaxPayloadSize)
	assert.Len(t, frames[2].Payload, 500-2*MaxPayloadSize)

	var joined []byte
	for _, f := range frames {
		wire := f.Pack()
		assert.LessOrEqual(t, len(wire), MaxFrameSize)

		decoded, err := Decode(wire)
		require.NoError(t, err)
		joined = append(joined, decoded.Payload...)
	}
	assert.Equal(t, record, joined)
}

func TestSplit_EmptyRecord(t *testing.T) {
	frames, err := Split(nil, 1, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Final)
	assert.Empty(t, frames[0].Payload)
}

func TestSplit_InvalidSeq(t *testing.T) {
	_, err := Split([]byte("x"), 9, 0)
	assert.ErrorIs(t, err, ErrInvalidSeq)
}

func TestControlName(t *testing.T) {
	assert.Equal(t, "ENQ", ControlName(ENQ))
	assert.Equal(t, "ETB", ControlName(ETB))
	assert.Equal(t, "0x7F", ControlName(0x7F))
}
