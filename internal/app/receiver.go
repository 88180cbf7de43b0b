package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"

	"radioftp/internal/archive"
	"radioftp/internal/engine"
	"radioftp/internal/link"
	"radioftp/internal/metrics"
	"radioftp/internal/store"
	"radioftp/pkg/utils"
)

// ErrLinkFailed ends the receive loop after too many consecutive link errors.
var ErrLinkFailed = errors.New("radio link failed")

// ReceiverOptions configures the receiver loop
type ReceiverOptions struct {
	Port         uint8
	TickInterval time.Duration
	// MaxFailures is the number of consecutive link errors tolerated. Zero
	// keeps polling forever.
	MaxFailures int
}

// Archiver uploads an applied artifact. archive.S3Archiver implements it.
type Archiver interface {
	Upload(ctx context.Context, art archive.Artifact) (string, error)
}

// ArtifactPaths locates applied files on disk. store.FileStore implements it.
type ArtifactPaths interface {
	Path(key store.Key) string
}

// ReceiverApp polls a device link and feeds the transfer engine.
type ReceiverApp struct {
	link     link.Link
	engine   *engine.Engine
	opts     ReceiverOptions
	log      logging.LeveledLogger
	paths    ArtifactPaths
	archiver Archiver

	buf      []byte
	failures int
}

// NewReceiverApp creates a receiver over lk. Artifacts are hashed when the
// engine's store can locate them.
func NewReceiverApp(lk link.Link, eng *engine.Engine, st store.Store, opts ReceiverOptions, loggerFactory logging.LoggerFactory) *ReceiverApp {
	r := &ReceiverApp{
		link:   lk,
		engine: eng,
		opts:   opts,
		log:    loggerFactory.NewLogger("app"),
		buf:    make([]byte, link.MaxPayload),
	}
	if p, ok := st.(ArtifactPaths); ok {
		r.paths = p
	}
	return r
}

// SetArchiver enables uploading applied artifacts.
func (r *ReceiverApp) SetArchiver(a Archiver) { r.archiver = a }

// Run polls until a transfer is applied, ctx ends, or the link fails.
func (r *ReceiverApp) Run(ctx context.Context) Outcome {
	if r.opts.TickInterval <= 0 {
		return Outcome{Result: ResultFatal, Err: fmt.Errorf("tick interval must be greater than 0")}
	}
	r.log.Infof("Listening on port %d, polling every %s", r.opts.Port, r.opts.TickInterval)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.stop(ctx.Err())
		case <-ticker.C:
		}

		if err := r.poll(); err != nil {
			r.failures++
			r.log.Warnf("Link error (%d consecutive): %v", r.failures, err)
			if r.opts.MaxFailures > 0 && r.failures >= r.opts.MaxFailures {
				cause := fmt.Errorf("%w after %d consecutive errors: %w", ErrLinkFailed, r.failures, err)
				out := r.stop(cause)
				out.Result = ResultFatal
				return out
			}
			continue
		}
		r.failures = 0

		if c, ok := r.engine.Completion(); ok {
			return r.complete(ctx, c)
		}
	}
}

// poll runs one iteration: drain received messages when RX_DONE is up,
// otherwise let the engine's clock advance. Only link errors are returned.
func (r *ReceiverApp) poll() error {
	flags, err := r.link.IRQFlags(link.IRQRxDone | link.IRQTxDone | link.IRQTxError)
	if err != nil {
		return fmt.Errorf("failed to read IRQ flags: %w", err)
	}
	if flags.Has(link.IRQReset) || flags.Has(link.IRQWdogReset) {
		r.log.Warnf("Radio module reset: %s", flags)
		r.engine.LinkReset()
	}
	if flags.Has(link.IRQTxError) {
		r.log.Debugf("Uplink transmit error reported")
	}

	if !flags.Has(link.IRQRxDone) {
		if err := r.engine.Tick(); err != nil {
			r.log.Warnf("Tick: %v", err)
		}
		return nil
	}

	for {
		msg, err := r.link.Retrieve(r.buf)
		if err != nil {
			return fmt.Errorf("failed to retrieve message: %w", err)
		}
		if len(msg.Payload) == 0 {
			return nil
		}
		if msg.Port != r.opts.Port {
			r.log.Warnf("Dropping %d byte message on port %d", len(msg.Payload), msg.Port)
			continue
		}
		metrics.ObserveDownlink(msg.RSSI, msg.SNR)
		r.log.Tracef("Downlink %d bytes rssi=%d snr=%d", len(msg.Payload), msg.RSSI, msg.SNR)
		if err := r.engine.HandleFrame(msg.Payload); err != nil {
			r.log.Warnf("Frame rejected: %v", err)
		}
	}
}

// stop aborts an active transfer and reports the loop's end.
func (r *ReceiverApp) stop(cause error) Outcome {
	out := Outcome{Result: ResultAborted, Err: cause}
	if t, ok := r.engine.Transfer(); ok {
		if err := r.engine.Abort(cause); err != nil {
			r.log.Warnf("Abort of %s: %v", t, err)
		}
	}
	return out
}

// complete runs the post-apply hooks.
func (r *ReceiverApp) complete(ctx context.Context, c engine.Completion) Outcome {
	out := Outcome{Result: ResultCompleted, Completion: c}
	if r.paths == nil {
		return out
	}

	key := store.Key{FileID: c.Transfer.FileID, FileVersion: c.Transfer.FileVersion}
	out.Artifact = r.paths.Path(key)

	sum, err := utils.SHA256File(out.Artifact)
	if err != nil {
		r.log.Errorf("Failed to hash %s: %v", out.Artifact, err)
		out.Err = err
		return out
	}
	out.SHA256 = sum
	r.log.Infof("Artifact %s sha256=%s", out.Artifact, sum)

	if r.archiver != nil {
		uri, err := r.archiver.Upload(ctx, archive.Artifact{
			Name:   key.String() + ".bin",
			Path:   out.Artifact,
			SHA256: sum,
			CRC32:  c.CRC32,
		})
		if err != nil {
			out.Err = err
			return out
		}
		out.ArchiveURI = uri
	}
	return out
}
