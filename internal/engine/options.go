package engine

import (
	"fmt"

	"radioftp/internal/wire"
)

// Options configure an Engine.
type Options struct {
	SegmentSize  uint32
	MaxFrameSize int
	Port         uint8

	// RequestInterval is the number of quiet ticks in SEGMENT before the
	// engine asks for missing segments.
	RequestInterval int
	// IndicesPerRequest caps the indices in one request; the frame size
	// caps it further.
	IndicesPerRequest int
	// AbortAfterRequests aborts a transfer after this many consecutive
	// unanswered requests. Zero retries forever.
	AbortAfterRequests int
	// MaxFileSize rejects larger Opens. Zero means no limit.
	MaxFileSize uint32
}

func DefaultOptions() Options {
	return Options{
		SegmentSize:        wire.DefaultSegmentSize,
		MaxFrameSize:       wire.DefaultMaxFrameSize,
		Port:               wire.DefaultPort,
		RequestInterval:    5,
		IndicesPerRequest:  32,
		AbortAfterRequests: 0,
		MaxFileSize:        0,
	}
}

func (o Options) validate() error {
	if o.RequestInterval <= 0 {
		return fmt.Errorf("request interval must be positive, got %d", o.RequestInterval)
	}
	if o.IndicesPerRequest <= 0 {
		return fmt.Errorf("indices per request must be positive, got %d", o.IndicesPerRequest)
	}
	if o.AbortAfterRequests < 0 {
		return fmt.Errorf("abort after requests must not be negative, got %d", o.AbortAfterRequests)
	}
	return nil
}
