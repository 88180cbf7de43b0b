// Package sender is the gateway side of a transfer: it offers a file to a
// device, streams its segments and answers the device's retransmission
// requests until the device reports the file applied.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/pion/logging"

	"radioftp/internal/link"
	"radioftp/internal/wire"
)

var (
	ErrRejected   = errors.New("device closed the transfer")
	ErrNoResponse = errors.New("device did not answer the open")
	ErrEmptyFile  = errors.New("file is empty")
	ErrFileSize   = errors.New("file too large for the transfer protocol")
)

// Options configures one transfer
type Options struct {
	FileID       uint32
	FileVersion  uint32
	SegmentSize  uint32
	MaxFrameSize int
	Port         uint8
	// Pace is the gap between consecutive downlinks.
	Pace time.Duration
	// OpenRetry re-sends the Open after this much silence once every
	// pending segment has gone out.
	OpenRetry      time.Duration
	MaxOpenRetries int
}

// Progress receives sender-side progress. reporter.ProgressReporter
// implements it.
type Progress interface {
	Start(description string, total, done uint32)
	Update(done uint32)
	Finish(ok bool, summary string)
}

// Result summarizes a finished transfer
type Result struct {
	Segments    uint32
	Sent        int
	Resent      int
	Requests    int
	OpenRetries int
	Elapsed     time.Duration
}

// Sender serves one file over a gateway.
type Sender struct {
	gw       link.Gateway
	codec    *wire.Codec
	opts     Options
	data     []byte
	log      logging.LeveledLogger
	progress Progress

	segments uint32
	pending  *roaring.Bitmap
	sent     *roaring.Bitmap
	result   Result
}

func New(gw link.Gateway, data []byte, opts Options, loggerFactory logging.LoggerFactory) (*Sender, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return nil, ErrFileSize
	}
	if opts.Pace <= 0 {
		return nil, fmt.Errorf("pace must be greater than 0")
	}
	codec, err := wire.NewCodec(int(opts.SegmentSize), opts.MaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("invalid frame geometry: %w", err)
	}

	segs := uint32((uint64(len(data)) + uint64(opts.SegmentSize) - 1) / uint64(opts.SegmentSize))
	return &Sender{
		gw:       gw,
		codec:    codec,
		opts:     opts,
		data:     data,
		log:      loggerFactory.NewLogger("sender"),
		segments: segs,
		pending:  roaring.New(),
		sent:     roaring.New(),
	}, nil
}

// SetProgress registers p for progress updates.
func (s *Sender) SetProgress(p Progress) { s.progress = p }

// Segments returns how many segments the file splits into.
func (s *Sender) Segments() uint32 { return s.segments }

type uplinkResult struct {
	msg link.Message
	err error
}

// Run drives the transfer until the device applies the file, rejects it,
// or ctx ends.
func (s *Sender) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	s.result = Result{Segments: s.segments}
	s.pending.AddRange(0, uint64(s.segments))

	uplinks := make(chan uplinkResult)
	go func() {
		for {
			msg, err := s.gw.Uplink(ctx)
			select {
			case uplinks <- uplinkResult{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	if s.progress != nil {
		s.progress.Start(fmt.Sprintf("file 0x%08x v%d", s.opts.FileID, s.opts.FileVersion), s.segments, 0)
	}
	finish := func(err error) (Result, error) {
		s.result.Elapsed = time.Since(start)
		if s.progress != nil {
			s.progress.Finish(err == nil, fmt.Sprintf("Sent %d segments, %d resent for %d requests",
				s.result.Sent, s.result.Resent, s.result.Requests))
		}
		return s.result, err
	}

	if err := s.sendOpen(ctx); err != nil {
		return finish(err)
	}
	lastHeard := time.Now()

	ticker := time.NewTicker(s.opts.Pace)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())

		case up := <-uplinks:
			if up.err != nil {
				return finish(fmt.Errorf("failed to read uplink: %w", up.err))
			}
			lastHeard = time.Now()
			done, err := s.handleUplink(up.msg)
			if err != nil || done {
				return finish(err)
			}

		case <-ticker.C:
			if s.pending.IsEmpty() {
				if s.opts.OpenRetry <= 0 || time.Since(lastHeard) < s.opts.OpenRetry {
					continue
				}
				if s.opts.MaxOpenRetries > 0 && s.result.OpenRetries >= s.opts.MaxOpenRetries {
					return finish(fmt.Errorf("%w after %d retries", ErrNoResponse, s.result.OpenRetries))
				}
				s.result.OpenRetries++
				s.log.Infof("No answer for %s, re-sending open (%d)", time.Since(lastHeard).Round(time.Millisecond), s.result.OpenRetries)
				if err := s.sendOpen(ctx); err != nil {
					if !busy(err) {
						return finish(err)
					}
					s.log.Debugf("Downlink queue full, open deferred")
				}
				lastHeard = time.Now()
				continue
			}
			if err := s.sendNext(ctx); err != nil {
				return finish(err)
			}
		}
	}
}

// handleUplink processes one device frame and reports whether the
// transfer has finished.
func (s *Sender) handleUplink(up link.Message) (bool, error) {
	if up.Port != s.opts.Port {
		s.log.Debugf("Ignoring uplink on port %d", up.Port)
		return false, nil
	}
	msg, err := s.codec.Decode(up.Payload)
	if err != nil {
		s.log.Warnf("Dropping malformed uplink: %v", err)
		return false, nil
	}
	if msg.FileID != s.opts.FileID || msg.FileVersion != s.opts.FileVersion {
		s.log.Warnf("Ignoring %s for another file", msg)
		return false, nil
	}
	s.log.Tracef("<- %s", msg)

	switch msg.Type {
	case wire.TypeSegmentRequest:
		s.result.Requests++
		added := 0
		for _, i := range msg.Indices {
			if i >= s.segments {
				s.log.Warnf("Device requested segment %d of %d", i, s.segments)
				continue
			}
			if s.pending.CheckedAdd(i) {
				added++
			}
		}
		s.log.Debugf("Device requested %d segments, %d newly queued, %d pending", len(msg.Indices), added, s.pending.GetCardinality())
		return false, nil
	case wire.TypeApply:
		if msg.FileSize != uint32(len(s.data)) {
			return true, fmt.Errorf("device applied %d bytes, sent %d", msg.FileSize, len(s.data))
		}
		s.log.Infof("Device applied file 0x%08x v%d", s.opts.FileID, s.opts.FileVersion)
		if s.progress != nil {
			s.progress.Update(s.segments)
		}
		return true, nil
	case wire.TypeClose:
		return true, ErrRejected
	default:
		s.log.Warnf("Unexpected %s from device", msg.Type)
		return false, nil
	}
}

func (s *Sender) sendOpen(ctx context.Context) error {
	return s.downlink(ctx, wire.NewOpen(s.opts.FileID, s.opts.FileVersion, uint32(len(s.data))))
}

func (s *Sender) sendNext(ctx context.Context) error {
	index := s.pending.Minimum()
	offset := index * s.opts.SegmentSize
	end := min(uint64(offset)+uint64(s.opts.SegmentSize), uint64(len(s.data)))
	msg := wire.NewSegmentData(s.opts.FileID, s.opts.FileVersion, offset, s.data[offset:end])

	if err := s.downlink(ctx, msg); err != nil {
		if busy(err) {
			s.log.Debugf("Downlink queue full, holding segment %d", index)
			return nil
		}
		return err
	}

	s.pending.Remove(index)
	s.result.Sent++
	if !s.sent.CheckedAdd(index) {
		s.result.Resent++
	} else if s.progress != nil {
		s.progress.Update(uint32(s.sent.GetCardinality()))
	}
	return nil
}

func (s *Sender) downlink(ctx context.Context, msg wire.Message) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	s.log.Tracef("-> %s", msg)
	if err := s.gw.Downlink(ctx, frame, s.opts.Port); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// busy reports a downlink refusal that clears once the device drains its queue
func busy(err error) bool {
	return link.IsNack(err, link.NackQueueFull) || link.IsNack(err, link.NackBusyTryAgain)
}
