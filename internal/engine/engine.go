// Package engine is the receiving side of the file transfer protocol: it
// accepts segments, tracks what is missing, asks for retransmissions,
// toggles the radio's downlink mode and applies the finished file.
//
// The engine is driven entirely by its caller. It starts no goroutines and
// is not safe for concurrent use.
package engine

import (
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"radioftp/internal/metrics"
	"radioftp/internal/store"
	"radioftp/internal/tracker"
	"radioftp/internal/wire"
)

// readBackChunk is the read size used to checksum an applied artifact.
const readBackChunk = 4096

// Uplink is what the engine needs from the radio.
type Uplink interface {
	Send(payload []byte, acked bool, port uint8) error
	SetDownlink(on bool) error
}

type downlinkMode int

const (
	downlinkUnknown downlinkMode = iota
	downlinkOn
	downlinkOff
)

// Engine runs one transfer at a time.
type Engine struct {
	opts    Options
	codec   *wire.Codec
	store   store.Store
	journal store.Journal
	uplink  Uplink
	log     logging.LeveledLogger

	state    State
	transfer Transfer
	handle   store.Handle
	tracker  *tracker.Tracker

	quietTicks   int
	unanswered   int
	forceRequest bool
	downlink     downlinkMode

	completion *Completion
	observer   Observer
	stats      Stats
	frame      *wire.Buffer
}

// New returns an idle engine writing through st and talking through up. If
// st also implements store.Journal, progress survives aborts and restarts.
func New(st store.Store, up Uplink, opts Options, loggerFactory logging.LoggerFactory) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec, err := wire.NewCodec(int(opts.SegmentSize), opts.MaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("invalid frame geometry: %w", err)
	}

	e := &Engine{
		opts:    opts,
		codec:   codec,
		store:   st,
		uplink:  up,
		log:     loggerFactory.NewLogger("engine"),
		tracker: tracker.New(),
		frame:   wire.NewBuffer(opts.MaxFrameSize),
	}
	if j, ok := st.(store.Journal); ok {
		e.journal = j
	}
	metrics.EngineState.Set(float64(StateIdle))
	return e, nil
}

// SetObserver registers o for progress notifications.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// Transfer returns the active transfer, if any.
func (e *Engine) Transfer() (Transfer, bool) {
	if e.state == StateIdle {
		return Transfer{}, false
	}
	return e.transfer, true
}

// Completion returns the result of the last successful apply.
func (e *Engine) Completion() (Completion, bool) {
	if e.completion == nil {
		return Completion{}, false
	}
	return *e.completion, true
}

// Done reports whether a transfer has been applied.
func (e *Engine) Done() bool { return e.completion != nil }

// Stats returns the running counters.
func (e *Engine) Stats() Stats { return e.stats }

// MissingCount returns how many segments the active transfer still needs.
func (e *Engine) MissingCount() uint32 {
	if e.state == StateIdle {
		return 0
	}
	return e.tracker.MissingCount()
}

// Codec returns the codec the engine frames messages with.
func (e *Engine) Codec() *wire.Codec { return e.codec }

// HandleFrame decodes a raw frame and processes it.
func (e *Engine) HandleFrame(frame []byte) error {
	msg, err := e.codec.Decode(frame)
	if err != nil {
		if errors.Is(err, wire.ErrRange) {
			return e.count(fmt.Errorf("%w: %w", ErrRange, err))
		}
		return e.count(fmt.Errorf("%w: %w", ErrProtocol, err))
	}
	return e.count(e.dispatch(msg))
}

// Handle processes a decoded message.
func (e *Engine) Handle(msg wire.Message) error {
	return e.count(e.dispatch(msg))
}

// OnOpen starts or resumes the transfer of a file.
func (e *Engine) OnOpen(fileID, fileVersion, fileSize uint32) error {
	return e.count(e.onOpen(fileID, fileVersion, fileSize))
}

// OnSegmentData stores one segment of the active transfer.
func (e *Engine) OnSegmentData(fileID, fileVersion, offset uint32, payload []byte) error {
	return e.count(e.onSegmentData(fileID, fileVersion, offset, payload))
}

// Tick advances the engine's clock by one poll interval with no inbound
// traffic.
func (e *Engine) Tick() error {
	return e.count(e.tick())
}

// Apply finalizes a transfer whose segments are all present. The engine
// normally does this itself when the last segment lands.
func (e *Engine) Apply() error {
	if e.state != StateSegment || !e.tracker.IsComplete() {
		return e.count(fmt.Errorf("%w: apply in %s with %d segments missing", ErrProtocol, e.state, e.MissingCount()))
	}
	return e.count(e.apply())
}

// Abort stops the active transfer. Written bytes and the journal are kept.
func (e *Engine) Abort(reason error) error {
	return e.count(e.abort(reason))
}

func (e *Engine) dispatch(msg wire.Message) error {
	e.log.Tracef("<- %s", msg)

	switch msg.Type {
	case wire.TypeOpen:
		return e.onOpen(msg.FileID, msg.FileVersion, msg.FileSize)
	case wire.TypeSegmentData:
		return e.onSegmentData(msg.FileID, msg.FileVersion, msg.Offset, msg.Payload)
	case wire.TypeClose:
		return e.onClose(msg.FileID, msg.FileVersion)
	case wire.TypeApply:
		return e.onApply(msg.FileID, msg.FileVersion)
	default:
		return fmt.Errorf("%w: unexpected %s", ErrProtocol, msg.Type)
	}
}

func (e *Engine) onOpen(fileID, fileVersion, fileSize uint32) error {
	if fileSize == 0 {
		return fmt.Errorf("%w: open with zero file size", ErrProtocol)
	}
	if e.opts.MaxFileSize > 0 && fileSize > e.opts.MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit %d", ErrRange, fileSize, e.opts.MaxFileSize)
	}

	if e.state != StateIdle {
		if e.transfer.is(fileID, fileVersion) {
			if e.transfer.FileSize != fileSize {
				return fmt.Errorf("%w: open for %s with conflicting size %d", ErrProtocol, e.transfer, fileSize)
			}
			e.log.Debugf("Repeated open for %s, requesting missing segments", e.transfer)
			e.forceRequest = true
			return nil
		}
		if err := e.abort(fmt.Errorf("superseded by file 0x%08x v%d", fileID, fileVersion)); err != nil {
			e.log.Warnf("Abort of superseded transfer failed: %v", err)
		}
	}

	if e.completion != nil && e.completion.Transfer.is(fileID, fileVersion) {
		// The sender missed our completion report.
		return e.sendCompletion(e.completion.Transfer)
	}

	key := store.Key{FileID: fileID, FileVersion: fileVersion}
	handle, err := e.store.Open(key, fileSize)
	if err != nil {
		e.log.Errorf("Failed to open store for %s: %v", key, err)
		return fmt.Errorf("%w: open %s: %w", ErrStorage, key, err)
	}

	segs := (fileSize + e.opts.SegmentSize - 1) / e.opts.SegmentSize
	e.tracker.Reset(segs)
	e.handle = handle
	e.transfer = Transfer{
		FileID:      fileID,
		FileVersion: fileVersion,
		FileSize:    fileSize,
		SegmentSize: e.opts.SegmentSize,
		NumSegments: segs,
		Session:     uuid.New(),
		StartedAt:   time.Now(),
	}
	e.completion = nil
	e.quietTicks = 0
	e.unanswered = 0
	e.forceRequest = false

	if e.journal != nil {
		received, err := e.journal.LoadProgress(handle, e.opts.SegmentSize)
		if err != nil {
			e.log.Warnf("Ignoring unreadable journal for %s: %v", key, err)
		} else if received != nil {
			e.transfer.Resumed = e.tracker.Restore(received)
			// Tell the sender what is left right away.
			e.forceRequest = e.transfer.Resumed > 0
		}
	}

	e.setState(StateSegment)
	e.log.Infof("Transfer %s opened: %s, %d segments resumed", e.transfer.Session, e.transfer, e.transfer.Resumed)
	metrics.MissingSegments.Set(float64(e.tracker.MissingCount()))
	if e.observer != nil {
		e.observer.TransferStarted(e.transfer, e.tracker.MissingCount())
	}

	if e.tracker.IsComplete() {
		return e.apply()
	}
	return nil
}

func (e *Engine) onSegmentData(fileID, fileVersion, offset uint32, payload []byte) error {
	if e.state != StateSegment {
		return fmt.Errorf("%w: segment data in %s", ErrProtocol, e.state)
	}
	if !e.transfer.is(fileID, fileVersion) {
		return fmt.Errorf("%w: segment for file 0x%08x v%d during %s", ErrProtocol, fileID, fileVersion, e.transfer)
	}

	size := e.transfer.FileSize
	end := uint64(offset) + uint64(len(payload))
	if offset >= size || end > uint64(size) {
		e.log.Warnf("Dropping segment at offset %d len %d outside %d byte file", offset, len(payload), size)
		return fmt.Errorf("%w: segment [%d,%d) outside file of %d bytes", ErrRange, offset, end, size)
	}
	if uint32(len(payload)) > e.opts.SegmentSize {
		return fmt.Errorf("%w: segment of %d bytes exceeds segment size %d", ErrRange, len(payload), e.opts.SegmentSize)
	}
	if offset%e.opts.SegmentSize != 0 {
		return fmt.Errorf("%w: offset %d is not aligned to segment size %d", ErrProtocol, offset, e.opts.SegmentSize)
	}
	if want := min(e.opts.SegmentSize, size-offset); uint32(len(payload)) != want {
		return fmt.Errorf("%w: segment at offset %d has %d bytes, want %d", ErrProtocol, offset, len(payload), want)
	}

	e.quietTicks = 0
	e.unanswered = 0

	index := offset / e.opts.SegmentSize
	if !e.tracker.Contains(index) {
		e.stats.Duplicates++
		metrics.DuplicateSegments.Inc()
		e.log.Tracef("Duplicate segment %d", index)
		return nil
	}

	if err := e.store.Write(e.handle, offset, payload); err != nil {
		e.log.Errorf("Failed to write segment %d: %v", index, err)
		cause := fmt.Errorf("%w: write segment %d: %w", ErrStorage, index, err)
		t := e.transfer
		abortErr := e.abort(cause)
		sendErr := e.sendControl(wire.NewClose(t.FileID, t.FileVersion), false)
		return errors.Join(cause, abortErr, sendErr)
	}

	e.tracker.MarkReceived(index)
	e.stats.SegmentsWritten++
	metrics.SegmentsWritten.Inc()
	metrics.MissingSegments.Set(float64(e.tracker.MissingCount()))
	e.saveProgress()
	e.log.Debugf("Stored segment %d/%d, %d missing", index, e.transfer.NumSegments, e.tracker.MissingCount())
	if e.observer != nil {
		e.observer.SegmentStored(e.transfer, e.tracker.MissingCount())
	}

	if e.tracker.IsComplete() {
		return e.apply()
	}
	return nil
}

func (e *Engine) onClose(fileID, fileVersion uint32) error {
	if e.state == StateIdle {
		return fmt.Errorf("%w: close for file 0x%08x v%d with no transfer", ErrProtocol, fileID, fileVersion)
	}
	if !e.transfer.is(fileID, fileVersion) {
		return fmt.Errorf("%w: close for file 0x%08x v%d during %s", ErrProtocol, fileID, fileVersion, e.transfer)
	}
	return e.abort(errors.New("closed by sender"))
}

func (e *Engine) onApply(fileID, fileVersion uint32) error {
	if e.state == StateIdle && e.completion != nil && e.completion.Transfer.is(fileID, fileVersion) {
		e.log.Debugf("Ignoring repeated apply for %s", e.completion.Transfer)
		return nil
	}
	return fmt.Errorf("%w: apply for file 0x%08x v%d in %s", ErrProtocol, fileID, fileVersion, e.state)
}

func (e *Engine) tick() error {
	if e.state != StateSegment {
		return e.ensureDownlink(false)
	}

	dlErr := e.ensureDownlink(true)

	e.quietTicks++
	if !e.forceRequest && e.quietTicks < e.opts.RequestInterval {
		return dlErr
	}
	e.quietTicks = 0
	e.forceRequest = false

	if e.opts.AbortAfterRequests > 0 && e.unanswered >= e.opts.AbortAfterRequests {
		cause := fmt.Errorf("%w: no segments after %d requests", ErrTransport, e.unanswered)
		t := e.transfer
		abortErr := e.abort(cause)
		sendErr := e.sendControl(wire.NewClose(t.FileID, t.FileVersion), false)
		return errors.Join(dlErr, cause, abortErr, sendErr)
	}

	return errors.Join(dlErr, e.sendRequest())
}

func (e *Engine) sendRequest() error {
	limit := min(e.opts.IndicesPerRequest, e.codec.MaxRequestIndices())
	indices := e.tracker.Batch(limit)
	if len(indices) == 0 {
		return nil
	}

	e.unanswered++
	e.stats.RequestsSent++
	metrics.RequestsSent.Inc()
	e.log.Debugf("Requesting %d of %d missing segments starting at %d", len(indices), e.tracker.MissingCount(), indices[0])
	return e.sendControl(wire.NewSegmentRequest(e.transfer.FileID, e.transfer.FileVersion, indices), false)
}

func (e *Engine) apply() error {
	e.setState(StateApply)
	t := e.transfer

	crc := crc32.NewIEEE()
	for off := uint64(0); off < uint64(t.FileSize); off += readBackChunk {
		n := min(readBackChunk, uint64(t.FileSize)-off)
		data, err := e.store.Read(e.handle, uint32(off), int(n))
		if err != nil {
			cause := fmt.Errorf("%w: read back at offset %d: %w", ErrStorage, off, err)
			// The journal can no longer be trusted: start over on the next Open.
			e.tracker.Reset(t.NumSegments)
			return errors.Join(cause, e.abort(cause))
		}
		crc.Write(data)
	}

	handle := e.handle
	e.handle = nil
	if err := e.store.Close(handle); err != nil {
		// The journal is complete, so a repeated Open applies again.
		cause := fmt.Errorf("%w: close artifact: %w", ErrStorage, err)
		return errors.Join(cause, e.abort(cause))
	}

	elapsed := time.Since(t.StartedAt)
	e.completion = &Completion{Transfer: t, CRC32: crc.Sum32(), Elapsed: elapsed}
	e.completion.Transfer.State = StateApply
	e.stats.Applied++
	metrics.ObserveTransfer("applied", elapsed)
	e.log.Infof("Transfer %s applied: %s crc32=0x%08x in %s", t.Session, t, e.completion.CRC32, elapsed.Round(time.Millisecond))

	sendErr := e.sendCompletion(t)
	dlErr := e.ensureDownlink(false)

	e.tracker.Reset(0)
	e.setState(StateIdle)
	if e.observer != nil {
		e.observer.TransferFinished(t, true)
	}
	return errors.Join(sendErr, dlErr)
}

func (e *Engine) sendCompletion(t Transfer) error {
	return e.sendControl(wire.NewApply(t.FileID, t.FileVersion, t.FileSize), true)
}

func (e *Engine) abort(reason error) error {
	if e.state == StateIdle {
		return fmt.Errorf("%w: abort with no transfer", ErrProtocol)
	}
	t := e.transfer
	e.log.Warnf("Transfer %s aborted: %s: %v", t.Session, t, reason)

	var closeErr error
	if e.handle != nil {
		e.saveProgress()
		if err := e.store.Close(e.handle); err != nil {
			closeErr = fmt.Errorf("%w: close artifact: %w", ErrStorage, err)
		}
		e.handle = nil
	}

	e.tracker.Reset(0)
	e.quietTicks = 0
	e.unanswered = 0
	e.forceRequest = false
	e.stats.Aborted++
	metrics.ObserveTransfer("aborted", time.Since(t.StartedAt))
	e.setState(StateIdle)
	if e.observer != nil {
		e.observer.TransferFinished(t, false)
	}
	return closeErr
}

// saveProgress records received segments. A failure only costs
// retransmissions after a restart, so it is logged and not returned.
func (e *Engine) saveProgress() {
	if e.journal == nil || e.handle == nil {
		return
	}
	if err := e.journal.SaveProgress(e.handle, e.opts.SegmentSize, e.tracker.Received()); err != nil {
		e.log.Warnf("Failed to save progress for %s: %v", e.transfer, err)
	}
}

func (e *Engine) sendControl(msg wire.Message, acked bool) error {
	if err := e.codec.EncodeTo(e.frame, msg); err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrProtocol, msg.Type, err)
	}
	e.log.Tracef("-> %s", msg)
	if err := e.uplink.Send(e.frame.Bytes(), acked, e.opts.Port); err != nil {
		e.log.Warnf("Failed to send %s: %v", msg.Type, err)
		return fmt.Errorf("%w: send %s: %w", ErrTransport, msg.Type, err)
	}
	return nil
}

// LinkReset forgets the cached downlink mode. Call it when the radio
// reports a reset, so the next tick configures it again.
func (e *Engine) LinkReset() {
	e.downlink = downlinkUnknown
}

// ensureDownlink switches the radio only when the cached mode differs; a
// failed switch leaves the mode unknown so the next tick retries.
func (e *Engine) ensureDownlink(on bool) error {
	want := downlinkOff
	if on {
		want = downlinkOn
	}
	if e.downlink == want {
		return nil
	}
	if err := e.uplink.SetDownlink(on); err != nil {
		e.downlink = downlinkUnknown
		e.log.Warnf("Failed to set downlink on=%t: %v", on, err)
		return fmt.Errorf("%w: set downlink: %w", ErrTransport, err)
	}
	e.downlink = want
	e.log.Debugf("Downlink always-on=%t", on)
	return nil
}

// setState updates the engine state
func (e *Engine) setState(state State) {
	if e.state != state {
		e.log.Infof("Engine state: %s -> %s", e.state, state)
		e.state = state
		e.transfer.State = state
		metrics.EngineState.Set(float64(state))
	}
}

// count tallies the kinds err carries and returns it unchanged.
func (e *Engine) count(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		switch k.err {
		case ErrProtocol:
			e.stats.ProtocolErrors++
		case ErrStorage:
			e.stats.StorageErrors++
		case ErrTransport:
			e.stats.TransportErrors++
		case ErrRange:
			e.stats.RangeErrors++
		}
		metrics.Errors.WithLabelValues(k.name).Inc()
	}
	return err
}
