// Package store persists the bytes of a transfer and, optionally, a
// journal of which segments are already durable.
package store

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

var (
	ErrBadHandle = errors.New("handle does not belong to this store")
	ErrClosed    = errors.New("handle is closed")
	ErrShortRead = errors.New("short read")
)

// Key identifies the artifact of one transfer.
type Key struct {
	FileID      uint32
	FileVersion uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%08x-%d", k.FileID, k.FileVersion)
}

// Handle is an open artifact. Handles are only valid with the store that
// returned them.
type Handle interface {
	Key() Key
	Size() uint32
}

// Store is the byte-range interface the transfer engine writes through.
// Open must not truncate existing content and writes past the current end
// of the artifact back-fill with zeros.
type Store interface {
	Open(key Key, size uint32) (Handle, error)
	Read(h Handle, offset uint32, length int) ([]byte, error)
	Write(h Handle, offset uint32, p []byte) error
	Close(h Handle) error
}

// Journal is implemented by stores that can remember progress across
// restarts. LoadProgress returns nil when no record exists or the record was
// made for a different geometry.
type Journal interface {
	LoadProgress(h Handle, segmentSize uint32) (*roaring.Bitmap, error)
	SaveProgress(h Handle, segmentSize uint32, received *roaring.Bitmap) error
}
