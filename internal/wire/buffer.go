package wire

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a bounded, append-only byte buffer. Every write checks the
// remaining capacity and fails with ErrRange instead of growing.
type Buffer struct {
	data []byte
	cap  int
}

// NewBuffer returns an empty buffer that holds at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		data: make([]byte, 0, capacity),
		cap:  capacity,
	}
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the capacity the buffer was created with.
func (b *Buffer) Cap() int { return b.cap }

// Remaining returns how many more bytes fit.
func (b *Buffer) Remaining() int { return b.cap - len(b.data) }

// Bytes returns the written bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() { b.data = b.data[:0] }

func (b *Buffer) reserve(n int) error {
	if n > b.Remaining() {
		return fmt.Errorf("%w: need %d bytes, %d of %d left", ErrRange, n, b.Remaining(), b.cap)
	}
	return nil
}

func (b *Buffer) PutUint8(v uint8) error {
	if err := b.reserve(1); err != nil {
		return err
	}
	b.data = append(b.data, v)
	return nil
}

func (b *Buffer) PutUint16(v uint16) error {
	if err := b.reserve(2); err != nil {
		return err
	}
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
	return nil
}

func (b *Buffer) PutUint32(v uint32) error {
	if err := b.reserve(4); err != nil {
		return err
	}
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
	return nil
}

func (b *Buffer) PutBytes(p []byte) error {
	if err := b.reserve(len(p)); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

// reader walks a received frame. Reads past the end fail with ErrFraming.
type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) need(n int, field string) error {
	if n > r.remaining() {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrFraming, field, n, r.remaining())
	}
	return nil
}

func (r *reader) uint8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *reader) uint16(field string) (uint16, error) {
	if err := r.need(2, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) uint32(field string) (uint32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	if n == 0 {
		// Zero-length fields decode to nil.
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}
