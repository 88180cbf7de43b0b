package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State represents where the engine is in a transfer
type State int

const (
	StateIdle State = iota
	StateSegment
	StateApply
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSegment:
		return "SEGMENT"
	case StateApply:
		return "APPLY"
	default:
		return "UNKNOWN"
	}
}

// Error kinds. Every error an engine entry point returns wraps exactly one
// of these.
var (
	ErrProtocol  = errors.New("protocol error")
	ErrStorage   = errors.New("storage error")
	ErrTransport = errors.New("transport error")
	ErrRange     = errors.New("range error")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrProtocol, "protocol"},
	{ErrStorage, "storage"},
	{ErrTransport, "transport"},
	{ErrRange, "range"},
}

// Kind returns the metric label of the error kind err wraps, or "" when it
// wraps none.
func Kind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Transfer describes the active (or last completed) file delivery.
type Transfer struct {
	FileID      uint32
	FileVersion uint32
	FileSize    uint32
	SegmentSize uint32
	NumSegments uint32
	State       State

	Session   uuid.UUID
	StartedAt time.Time
	// Resumed is the number of segments restored from the journal at Open.
	Resumed uint32
}

func (t Transfer) String() string {
	return fmt.Sprintf("file 0x%08x v%d (%d bytes, %d segments)", t.FileID, t.FileVersion, t.FileSize, t.NumSegments)
}

func (t Transfer) is(fileID, fileVersion uint32) bool {
	return t.FileID == fileID && t.FileVersion == fileVersion
}

// Completion is the result of a successful apply.
type Completion struct {
	Transfer Transfer
	// CRC32 is the IEEE checksum of the assembled artifact.
	CRC32   uint32
	Elapsed time.Duration
}

// Stats are running counters over the engine's lifetime.
type Stats struct {
	SegmentsWritten uint64
	Duplicates      uint64
	RequestsSent    uint64
	Applied         uint64
	Aborted         uint64

	ProtocolErrors  uint64
	StorageErrors   uint64
	TransportErrors uint64
	RangeErrors     uint64
}

// Observer is told about transfer progress. Calls happen on the engine's
// goroutine.
type Observer interface {
	TransferStarted(t Transfer, missing uint32)
	SegmentStored(t Transfer, missing uint32)
	TransferFinished(t Transfer, applied bool)
}
