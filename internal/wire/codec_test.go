package wire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := DefaultCodec()

	tests := []struct {
		name    string
		msg     Message
		wantLen int
	}{
		{
			name:    "open",
			msg:     NewOpen(0xCAFEBABE, 3, 1000),
			wantLen: HeaderSize + FileSizeFieldSize,
		},
		{
			name:    "empty segment",
			msg:     NewSegmentData(1, 1, 0, nil),
			wantLen: SegmentDataOverhead,
		},
		{
			name:    "full segment",
			msg:     NewSegmentData(1, 1, 256, bytes.Repeat([]byte{0xAA}, DefaultSegmentSize)),
			wantLen: SegmentDataOverhead + DefaultSegmentSize,
		},
		{
			name:    "apply",
			msg:     NewApply(7, 9, 4096),
			wantLen: HeaderSize + FileSizeFieldSize,
		},
		{
			name:    "close",
			msg:     NewClose(7, 9),
			wantLen: HeaderSize,
		},
		{
			name:    "request",
			msg:     NewSegmentRequest(7, 9, []uint32{1, 3, 0xFFFFFFFF}),
			wantLen: HeaderSize + CountFieldSize + 3*IndexFieldSize,
		},
		{
			name:    "empty request",
			msg:     NewSegmentRequest(7, 9, nil),
			wantLen: HeaderSize + CountFieldSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := codec.Encode(tt.msg)
			require.NoError(t, err)
			assert.Len(t, frame, tt.wantLen)

			crc := binary.LittleEndian.Uint32(frame[:CRCSize])
			assert.Equal(t, crc32.ChecksumIEEE(frame[CRCSize:]), crc)
			assert.Equal(t, uint8(tt.msg.Type), frame[CRCSize])

			again, err := codec.Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, frame, again, "encoding must be deterministic")

			got, err := codec.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestCodecLayout(t *testing.T) {
	frame, err := DefaultCodec().Encode(NewSegmentData(0x04030201, 0x08070605, 0x0C0B0A09, []byte{0xEE}))
	require.NoError(t, err)

	want := []byte{
		0x02,
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08,
		0x09, 0x0A, 0x0B, 0x0C,
		0x01, 0x00,
		0xEE,
	}
	assert.Equal(t, want, frame[CRCSize:])
}

func TestCodecOversizedPayload(t *testing.T) {
	codec := DefaultCodec()

	_, err := codec.Encode(NewSegmentData(1, 1, 0, make([]byte, DefaultSegmentSize+1)))
	require.ErrorIs(t, err, ErrRange)

	// Hand-build a frame that declares more payload than the segment size.
	big, err := NewCodec(DefaultSegmentSize+8, DefaultMaxFrameSize)
	require.NoError(t, err)
	frame, err := big.Encode(NewSegmentData(1, 1, 0, make([]byte, DefaultSegmentSize+1)))
	require.NoError(t, err)

	_, err = codec.Decode(frame)
	require.ErrorIs(t, err, ErrRange)
}

func TestCodecDecodeErrors(t *testing.T) {
	codec := DefaultCodec()

	valid, err := codec.Encode(NewSegmentData(1, 1, 0, []byte{1, 2, 3}))
	require.NoError(t, err)

	reseal := func(frame []byte) []byte {
		binary.LittleEndian.PutUint32(frame[:CRCSize], crc32.ChecksumIEEE(frame[CRCSize:]))
		return frame
	}

	tests := []struct {
		name    string
		frame   func() []byte
		wantErr error
	}{
		{
			name:    "empty",
			frame:   func() []byte { return nil },
			wantErr: ErrFraming,
		},
		{
			name:    "shorter than header",
			frame:   func() []byte { return valid[:HeaderSize-1] },
			wantErr: ErrFraming,
		},
		{
			name: "corrupted payload",
			frame: func() []byte {
				f := bytes.Clone(valid)
				f[len(f)-1] ^= 0xFF
				return f
			},
			wantErr: ErrFraming,
		},
		{
			name: "unknown type",
			frame: func() []byte {
				f := bytes.Clone(valid)
				f[CRCSize] = 0x7F
				return reseal(f)
			},
			wantErr: ErrFraming,
		},
		{
			name: "length past end",
			frame: func() []byte {
				f := bytes.Clone(valid)
				binary.LittleEndian.PutUint16(f[HeaderSize+OffsetFieldSize:], 50)
				return reseal(f)
			},
			wantErr: ErrFraming,
		},
		{
			name: "trailing bytes",
			frame: func() []byte {
				return reseal(append(bytes.Clone(valid), 0x00))
			},
			wantErr: ErrFraming,
		},
		{
			name: "request count past end",
			frame: func() []byte {
				f, _ := codec.Encode(NewSegmentRequest(1, 1, []uint32{4}))
				binary.LittleEndian.PutUint16(f[HeaderSize:], 2)
				return reseal(f)
			},
			wantErr: ErrFraming,
		},
		{
			name: "open without size",
			frame: func() []byte {
				f, _ := codec.Encode(NewClose(1, 1))
				f[CRCSize] = uint8(TypeOpen)
				return reseal(f)
			},
			wantErr: ErrFraming,
		},
		{
			name:    "larger than max frame",
			frame:   func() []byte { return make([]byte, DefaultMaxFrameSize+1) },
			wantErr: ErrRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.frame())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCodecEmptyFieldsDecodeNil(t *testing.T) {
	codec := DefaultCodec()

	empty, err := codec.Encode(NewSegmentData(1, 1, 0, []byte{}))
	require.NoError(t, err)
	none, err := codec.Encode(NewSegmentData(1, 1, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, none, empty)
	got, err := codec.Decode(empty)
	require.NoError(t, err)
	assert.Nil(t, got.Payload)

	empty, err = codec.Encode(NewSegmentRequest(1, 1, []uint32{}))
	require.NoError(t, err)
	none, err = codec.Encode(NewSegmentRequest(1, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, none, empty)
	got, err = codec.Decode(empty)
	require.NoError(t, err)
	assert.Nil(t, got.Indices)
	assert.Empty(t, got.Indices)
}

func TestMaxRequestIndices(t *testing.T) {
	codec := DefaultCodec()
	n := codec.MaxRequestIndices()
	assert.Equal(t, (DefaultMaxFrameSize-HeaderSize-CountFieldSize)/IndexFieldSize, n)

	indices := make([]uint32, n)
	frame, err := codec.Encode(NewSegmentRequest(1, 1, indices))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(frame), DefaultMaxFrameSize)

	_, err = codec.Encode(NewSegmentRequest(1, 1, make([]uint32, n+1)))
	require.ErrorIs(t, err, ErrRange)
}

func TestNewCodecGeometry(t *testing.T) {
	_, err := NewCodec(0, DefaultMaxFrameSize)
	require.ErrorIs(t, err, ErrRange)

	_, err = NewCodec(DefaultMaxFrameSize, DefaultMaxFrameSize)
	require.ErrorIs(t, err, ErrRange)

	_, err = NewCodec(16, HeaderSize)
	require.ErrorIs(t, err, ErrRange)

	c, err := NewCodec(DefaultMaxFrameSize-SegmentDataOverhead, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxFrameSize-SegmentDataOverhead, c.SegmentSize())
}

func TestBufferBounds(t *testing.T) {
	buf := NewBuffer(5)
	require.NoError(t, buf.PutUint32(1))
	require.ErrorIs(t, buf.PutUint16(1), ErrRange)
	require.NoError(t, buf.PutUint8(2))
	assert.Equal(t, 0, buf.Remaining())
	require.ErrorIs(t, buf.PutBytes([]byte{1}), ErrRange)

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 5, buf.Cap())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "SegmentRequest", TypeSegmentRequest.String())
	assert.Equal(t, "Type(0x7f)", Type(0x7F).String())
}
