package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Codec encodes and decodes transfer frames for one link geometry.
type Codec struct {
	segmentSize  int
	maxFrameSize int
}

// NewCodec returns a codec for the given segment and frame sizes. A
// segment must fit inside one SegmentData frame.
func NewCodec(segmentSize, maxFrameSize int) (*Codec, error) {
	if maxFrameSize <= HeaderSize {
		return nil, fmt.Errorf("%w: max frame size %d does not leave room for a header", ErrRange, maxFrameSize)
	}
	if segmentSize <= 0 || segmentSize > maxFrameSize-SegmentDataOverhead {
		return nil, fmt.Errorf("%w: segment size %d does not fit in a %d byte frame", ErrRange, segmentSize, maxFrameSize)
	}
	if segmentSize > 0xFFFF {
		return nil, fmt.Errorf("%w: segment size %d exceeds the length field", ErrRange, segmentSize)
	}
	return &Codec{segmentSize: segmentSize, maxFrameSize: maxFrameSize}, nil
}

// DefaultCodec returns a codec with the default radio geometry.
func DefaultCodec() *Codec {
	return &Codec{segmentSize: DefaultSegmentSize, maxFrameSize: DefaultMaxFrameSize}
}

func (c *Codec) SegmentSize() int  { return c.segmentSize }
func (c *Codec) MaxFrameSize() int { return c.maxFrameSize }

// MaxRequestIndices returns how many indices one SegmentRequest frame carries.
func (c *Codec) MaxRequestIndices() int {
	return (c.maxFrameSize - HeaderSize - CountFieldSize) / IndexFieldSize
}

// Encode serializes m into a new frame.
func (c *Codec) Encode(m Message) ([]byte, error) {
	buf := NewBuffer(c.maxFrameSize)
	if err := c.EncodeTo(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo serializes m into buf, which is reset first. The CRC is
// written last, once the rest of the frame is in place.
func (c *Codec) EncodeTo(buf *Buffer, m Message) error {
	buf.Reset()
	if err := buf.PutUint32(0); err != nil { // CRC placeholder
		return err
	}
	if err := buf.PutUint8(uint8(m.Type)); err != nil {
		return err
	}
	if err := buf.PutUint32(m.FileID); err != nil {
		return err
	}
	if err := buf.PutUint32(m.FileVersion); err != nil {
		return err
	}

	switch m.Type {
	case TypeOpen, TypeApply:
		if err := buf.PutUint32(m.FileSize); err != nil {
			return err
		}
	case TypeSegmentData:
		if len(m.Payload) > c.segmentSize {
			return fmt.Errorf("%w: payload of %d bytes exceeds segment size %d", ErrRange, len(m.Payload), c.segmentSize)
		}
		if err := buf.PutUint32(m.Offset); err != nil {
			return err
		}
		if err := buf.PutUint16(uint16(len(m.Payload))); err != nil {
			return err
		}
		if err := buf.PutBytes(m.Payload); err != nil {
			return err
		}
	case TypeClose:
	case TypeSegmentRequest:
		if len(m.Indices) > 0xFFFF {
			return fmt.Errorf("%w: %d indices exceed the count field", ErrRange, len(m.Indices))
		}
		if err := buf.PutUint16(uint16(len(m.Indices))); err != nil {
			return err
		}
		for _, idx := range m.Indices {
			if err := buf.PutUint32(idx); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: cannot encode %s", ErrFraming, m.Type)
	}

	frame := buf.Bytes()
	binary.LittleEndian.PutUint32(frame[:CRCSize], crc32.ChecksumIEEE(frame[CRCSize:]))
	return nil
}

// Decode parses one frame.
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) > c.maxFrameSize {
		return Message{}, fmt.Errorf("%w: frame of %d bytes exceeds max %d", ErrRange, len(frame), c.maxFrameSize)
	}
	if len(frame) < HeaderSize {
		return Message{}, fmt.Errorf("%w: frame of %d bytes is shorter than the %d byte header", ErrFraming, len(frame), HeaderSize)
	}

	want := binary.LittleEndian.Uint32(frame[:CRCSize])
	if got := crc32.ChecksumIEEE(frame[CRCSize:]); got != want {
		return Message{}, fmt.Errorf("%w: crc mismatch (got 0x%08x, want 0x%08x)", ErrFraming, got, want)
	}

	r := &reader{data: frame, off: CRCSize}
	t, _ := r.uint8("type")
	id, _ := r.uint32("file id")
	ver, _ := r.uint32("file version")
	m := Message{Type: Type(t), FileID: id, FileVersion: ver}

	var err error
	switch m.Type {
	case TypeOpen, TypeApply:
		m.FileSize, err = r.uint32("file size")
	case TypeSegmentData:
		err = c.decodeSegment(r, &m)
	case TypeClose:
	case TypeSegmentRequest:
		err = decodeRequest(r, &m)
	default:
		return Message{}, fmt.Errorf("%w: unknown message type 0x%02x", ErrFraming, t)
	}
	if err != nil {
		return Message{}, err
	}
	if r.remaining() != 0 {
		return Message{}, fmt.Errorf("%w: %d trailing bytes after %s", ErrFraming, r.remaining(), m.Type)
	}
	return m, nil
}

func (c *Codec) decodeSegment(r *reader, m *Message) error {
	var err error
	if m.Offset, err = r.uint32("offset"); err != nil {
		return err
	}
	n, err := r.uint16("length")
	if err != nil {
		return err
	}
	if int(n) > c.segmentSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds segment size %d", ErrRange, n, c.segmentSize)
	}
	m.Payload, err = r.bytes(int(n), "payload")
	return err
}

func decodeRequest(r *reader, m *Message) error {
	count, err := r.uint16("count")
	if err != nil {
		return err
	}
	if int(count)*IndexFieldSize > r.remaining() {
		return fmt.Errorf("%w: %d indices declared, %d bytes left", ErrFraming, count, r.remaining())
	}
	if count == 0 {
		return nil
	}
	m.Indices = make([]uint32, count)
	for i := range m.Indices {
		m.Indices[i], _ = r.uint32("index")
	}
	return nil
}
