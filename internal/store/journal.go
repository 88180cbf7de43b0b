package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring"
	"gopkg.in/yaml.v3"
)

// progressRecord is the on-disk journal format.
type progressRecord struct {
	FileID      uint32    `yaml:"file_id"`
	FileVersion uint32    `yaml:"file_version"`
	FileSize    uint32    `yaml:"file_size"`
	SegmentSize uint32    `yaml:"segment_size"`
	Received    string    `yaml:"received"`
	Count       uint64    `yaml:"count"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

func newProgressRecord(key Key, size, segmentSize uint32, received *roaring.Bitmap) (*progressRecord, error) {
	encoded, err := received.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress bitmap: %w", err)
	}
	return &progressRecord{
		FileID:      key.FileID,
		FileVersion: key.FileVersion,
		FileSize:    size,
		SegmentSize: segmentSize,
		Received:    encoded,
		Count:       received.GetCardinality(),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// matches reports whether the record was written for this artifact geometry.
func (r *progressRecord) matches(key Key, size, segmentSize uint32) bool {
	return r.FileID == key.FileID &&
		r.FileVersion == key.FileVersion &&
		r.FileSize == size &&
		r.SegmentSize == segmentSize
}

func (r *progressRecord) bitmap() (*roaring.Bitmap, error) {
	bm := roaring.New()
	if _, err := bm.FromBase64(r.Received); err != nil {
		return nil, fmt.Errorf("failed to decode progress bitmap: %w", err)
	}
	return bm, nil
}

func readProgressFile(path string) (*progressRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec progressRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse journal %s: %w", path, err)
	}
	return &rec, nil
}

// writeProgressFile replaces path atomically: the record goes to a temp
// file in the same directory which is then renamed over the old journal.
func writeProgressFile(path string, rec *progressRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create journal temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return nil
}
