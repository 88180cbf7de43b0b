package reporter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"radioftp/internal/engine"
	"radioftp/pkg/utils"
)

// ProgressReporter renders segment progress as a progress bar. It serves
// as the receiver's engine.Observer and as the sender's progress sink.
type ProgressReporter struct {
	mu        sync.Mutex
	w         io.Writer
	operation string // "Receiving" or "Sending"
	bar       *progressbar.ProgressBar
	total     uint32
	done      uint32
	started   time.Time
}

var _ engine.Observer = (*ProgressReporter)(nil)

// NewProgressReporter creates a reporter writing to w
func NewProgressReporter(w io.Writer, operation string) *ProgressReporter {
	return &ProgressReporter{w: w, operation: operation}
}

// Start begins a bar for total segments, of which done are already present
func (p *ProgressReporter) Start(description string, total, done uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done = done
	p.started = time.Now()
	p.bar = progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.operation, description)),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("seg"),
		progressbar.OptionShowIts(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
	_ = p.bar.Set64(int64(done))
}

// Update moves the bar to done segments
func (p *ProgressReporter) Update(done uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	p.done = done
	_ = p.bar.Set64(int64(done))
}

// Finish closes the bar and prints a summary
func (p *ProgressReporter) Finish(ok bool, summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if ok {
		_ = p.bar.Finish()
	} else {
		_ = p.bar.Exit()
	}
	p.bar = nil

	status := "completed successfully"
	if !ok {
		status = "aborted"
	}
	fmt.Fprintf(p.w, "\n=============================================\n")
	fmt.Fprintf(p.w, "File transfer %s!\n", status)
	fmt.Fprintf(p.w, "+ Segments: %d/%d\n", p.done, p.total)
	fmt.Fprintf(p.w, "+ Transfer time: %s\n", time.Since(p.started).Round(time.Millisecond))
	if summary != "" {
		fmt.Fprintf(p.w, "+ %s\n", summary)
	}
	fmt.Fprintf(p.w, "=============================================\n")
}

// Done returns the last reported segment count
func (p *ProgressReporter) Done() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *ProgressReporter) TransferStarted(t engine.Transfer, missing uint32) {
	p.Start(fmt.Sprintf("%08x v%d (%s)", t.FileID, t.FileVersion, utils.FormatFileSize(int64(t.FileSize))), t.NumSegments, t.NumSegments-missing)
}

func (p *ProgressReporter) SegmentStored(t engine.Transfer, missing uint32) {
	p.Update(t.NumSegments - missing)
}

func (p *ProgressReporter) TransferFinished(t engine.Transfer, applied bool) {
	if applied {
		p.Update(t.NumSegments)
	}
	p.Finish(applied, fmt.Sprintf("File: %08x v%d, %s", t.FileID, t.FileVersion, utils.FormatFileSize(int64(t.FileSize))))
}
