package reporter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"radioftp/internal/engine"
)

func TestObserverFlow(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Receiving")
	tr := engine.Transfer{FileID: 0xBEEF, FileVersion: 2, FileSize: 1000, NumSegments: 4}

	p.TransferStarted(tr, 3)
	assert.Equal(t, uint32(1), p.Done())

	p.SegmentStored(tr, 1)
	assert.Equal(t, uint32(3), p.Done())

	p.TransferFinished(tr, true)
	assert.Equal(t, uint32(4), p.Done())
	assert.Contains(t, buf.String(), "File transfer completed successfully!")
	assert.Contains(t, buf.String(), "Segments: 4/4")
	assert.Contains(t, buf.String(), "0000beef v2")
}

func TestAbortedTransfer(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Receiving")
	tr := engine.Transfer{FileID: 1, FileVersion: 1, FileSize: 100, NumSegments: 2}

	p.TransferStarted(tr, 2)
	p.TransferFinished(tr, false)
	assert.Contains(t, buf.String(), "File transfer aborted!")
	assert.Contains(t, buf.String(), "Segments: 0/2")
}

func TestUpdateWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "Sending")
	p.Update(5)
	p.Finish(true, "")
	assert.Empty(t, buf.String())
}
