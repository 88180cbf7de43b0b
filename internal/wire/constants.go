package wire

// Frame layout (little-endian):
//
//	CRC32(4) | Type(1) | FileID(4) | FileVersion(4) | Body(...)
//
// The CRC covers every byte after the CRC field.
const (
	CRCSize         = 4
	TypeFieldSize   = 1
	FileIDSize      = 4
	FileVersionSize = 4

	// HeaderSize is the number of bytes that precede the body of every frame.
	HeaderSize = CRCSize + TypeFieldSize + FileIDSize + FileVersionSize // 13 bytes

	// Body field sizes
	FileSizeFieldSize = 4
	OffsetFieldSize   = 4
	LengthFieldSize   = 2
	CountFieldSize    = 2
	IndexFieldSize    = 4

	// SegmentDataOverhead is the number of bytes a SegmentData frame spends on framing.
	SegmentDataOverhead = HeaderSize + OffsetFieldSize + LengthFieldSize

	// DefaultMaxFrameSize is the largest frame the radio link carries.
	DefaultMaxFrameSize = 256

	// DefaultSegmentSize leaves room for the SegmentData framing inside a default frame.
	DefaultSegmentSize = 128

	// DefaultPort is the application port transfer frames travel on.
	DefaultPort = 128
)

// Message types on the wire.
const (
	TypeOpen           Type = 0x01
	TypeSegmentData    Type = 0x02
	TypeApply          Type = 0x03
	TypeClose          Type = 0x04
	TypeSegmentRequest Type = 0x10
)
