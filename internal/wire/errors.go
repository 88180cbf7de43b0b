package wire

import "errors"

var (
	// ErrFraming reports a frame that cannot be parsed: too short, bad CRC,
	// unknown type or a length field pointing past the end of the buffer.
	ErrFraming = errors.New("framing error")

	// ErrRange reports a value that does not fit: a payload larger than the
	// segment size or a frame larger than the buffer capacity.
	ErrRange = errors.New("range error")
)
