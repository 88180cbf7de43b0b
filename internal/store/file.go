package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"github.com/pion/logging"
)

const journalSuffix = ".progress.yaml"

// FileStore keeps one artifact per transfer identity under a directory.
type FileStore struct {
	dir string
	log logging.LeveledLogger
}

type fileHandle struct {
	key    Key
	size   uint32
	path   string
	file   *os.File
	closed bool
}

func (h *fileHandle) Key() Key     { return h.key }
func (h *fileHandle) Size() uint32 { return h.size }

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string, loggerFactory logging.LoggerFactory) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: loggerFactory.NewLogger("store"),
	}, nil
}

// Path returns where the artifact for key lives.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, key.String()+".bin")
}

func (s *FileStore) journalPath(key Key) string {
	return s.Path(key) + journalSuffix
}

func (s *FileStore) Open(key Key, size uint32) (Handle, error) {
	path := s.Path(key)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	s.log.Debugf("Opened %s for %d bytes", path, size)
	return &fileHandle{key: key, size: size, path: path, file: file}, nil
}

func (s *FileStore) handle(h Handle) (*fileHandle, error) {
	fh, ok := h.(*fileHandle)
	if !ok {
		return nil, ErrBadHandle
	}
	if fh.closed {
		return nil, ErrClosed
	}
	return fh, nil
}

func (s *FileStore) Read(h Handle, offset uint32, length int) ([]byte, error) {
	fh, err := s.handle(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := fh.file.ReadAt(buf, int64(offset))
	if errors.Is(err, io.EOF) && n < length {
		return nil, fmt.Errorf("%w: %d of %d bytes at offset %d", ErrShortRead, n, length, offset)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return buf, nil
}

func (s *FileStore) Write(h Handle, offset uint32, p []byte) error {
	fh, err := s.handle(h)
	if err != nil {
		return err
	}
	if _, err := fh.file.WriteAt(p, int64(offset)); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// Close syncs the artifact to disk and releases the handle.
func (s *FileStore) Close(h Handle) error {
	fh, err := s.handle(h)
	if err != nil {
		return err
	}
	fh.closed = true

	syncErr := fh.file.Sync()
	closeErr := fh.file.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	s.log.Debugf("Closed %s", fh.path)
	return nil
}

func (s *FileStore) LoadProgress(h Handle, segmentSize uint32) (*roaring.Bitmap, error) {
	fh, err := s.handle(h)
	if err != nil {
		return nil, err
	}

	rec, err := readProgressFile(s.journalPath(fh.key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.matches(fh.key, fh.size, segmentSize) {
		s.log.Warnf("Ignoring journal for %s: recorded for size %d/segment %d", fh.key, rec.FileSize, rec.SegmentSize)
		return nil, nil
	}
	received, err := rec.bitmap()
	if err != nil {
		return nil, err
	}

	info, err := fh.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	// Segments recorded past the end of the file lost their bytes.
	length := uint64(info.Size())
	var lost []uint32
	it := received.Iterator()
	for it.HasNext() {
		i := it.Next()
		end := min((uint64(i)+1)*uint64(segmentSize), uint64(fh.size))
		if end > length {
			lost = append(lost, i)
		}
	}
	if len(lost) > 0 {
		s.log.Warnf("Journal for %s lists %d segments beyond the %d byte artifact", fh.key, len(lost), length)
		for _, i := range lost {
			received.Remove(i)
		}
	}
	return received, nil
}

func (s *FileStore) SaveProgress(h Handle, segmentSize uint32, received *roaring.Bitmap) error {
	fh, err := s.handle(h)
	if err != nil {
		return err
	}
	// The journal must never claim bytes that are not on disk.
	if err := fh.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	rec, err := newProgressRecord(fh.key, fh.size, segmentSize, received)
	if err != nil {
		return err
	}
	return writeProgressFile(s.journalPath(fh.key), rec)
}
