package store

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// MemoryStore keeps artifacts and journals in memory.
type MemoryStore struct {
	mu       sync.Mutex
	files    map[Key][]byte
	journals map[Key]*progressRecord
}

type memHandle struct {
	key    Key
	size   uint32
	closed bool
}

func (h *memHandle) Key() Key     { return h.key }
func (h *memHandle) Size() uint32 { return h.size }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:    make(map[Key][]byte),
		journals: make(map[Key]*progressRecord),
	}
}

// Bytes returns a copy of the stored artifact.
func (s *MemoryStore) Bytes(key Key) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (s *MemoryStore) handle(h Handle) (*memHandle, error) {
	mh, ok := h.(*memHandle)
	if !ok {
		return nil, ErrBadHandle
	}
	if mh.closed {
		return nil, ErrClosed
	}
	return mh, nil
}

func (s *MemoryStore) Open(key Key, size uint32) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[key]; !ok {
		s.files[key] = nil
	}
	return &memHandle{key: key, size: size}, nil
}

func (s *MemoryStore) Read(h Handle, offset uint32, length int) ([]byte, error) {
	mh, err := s.handle(h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.files[mh.key]
	end := int(offset) + length
	if end > len(data) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, artifact has %d", ErrShortRead, length, offset, len(data))
	}
	out := make([]byte, length)
	copy(out, data[offset:end])
	return out, nil
}

func (s *MemoryStore) Write(h Handle, offset uint32, p []byte) error {
	mh, err := s.handle(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.files[mh.key]
	if end := int(offset) + len(p); end > len(data) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], p)
	s.files[mh.key] = data
	return nil
}

func (s *MemoryStore) Close(h Handle) error {
	mh, err := s.handle(h)
	if err != nil {
		return err
	}
	mh.closed = true
	return nil
}

func (s *MemoryStore) LoadProgress(h Handle, segmentSize uint32) (*roaring.Bitmap, error) {
	mh, err := s.handle(h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	rec, ok := s.journals[mh.key]
	s.mu.Unlock()
	if !ok || !rec.matches(mh.key, mh.size, segmentSize) {
		return nil, nil
	}
	return rec.bitmap()
}

func (s *MemoryStore) SaveProgress(h Handle, segmentSize uint32, received *roaring.Bitmap) error {
	mh, err := s.handle(h)
	if err != nil {
		return err
	}
	rec, err := newProgressRecord(mh.key, mh.size, segmentSize, received)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.journals[mh.key] = rec
	s.mu.Unlock()
	return nil
}
