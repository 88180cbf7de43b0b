package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/crc32"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radioftp/internal/archive"
	"radioftp/internal/config"
	"radioftp/internal/engine"
	"radioftp/internal/link"
	"radioftp/internal/logger"
	"radioftp/internal/store"
	"radioftp/internal/uplink"
	"radioftp/internal/wire"
)

// scriptedLink hands out queued messages and records uplinks.
type scriptedLink struct {
	mu       sync.Mutex
	queue    []link.Message
	sent     [][]byte
	cfg      link.RadioConfig
	flagsErr error
	polls    int
	resetAt  int
	sets     int
}

func (l *scriptedLink) IRQFlags(clear link.IRQFlags) (link.IRQFlags, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.flagsErr != nil {
		return 0, l.flagsErr
	}
	l.polls++
	if l.polls == l.resetAt {
		return link.IRQReset, nil
	}
	if len(l.queue) > 0 {
		return link.IRQRxDone, nil
	}
	return 0, nil
}

func (l *scriptedLink) Retrieve(buf []byte) (link.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return link.Message{}, nil
	}
	msg := l.queue[0]
	l.queue = l.queue[1:]
	return msg, nil
}

func (l *scriptedLink) Send(payload []byte, acked bool, port uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, payload)
	return nil
}

func (l *scriptedLink) Config() (link.RadioConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, nil
}

func (l *scriptedLink) SetConfig(cfg link.RadioConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.sets++
	return nil
}

func (l *scriptedLink) Close() error { return nil }

type fakeArchiver struct {
	got []archive.Artifact
}

func (a *fakeArchiver) Upload(_ context.Context, art archive.Artifact) (string, error) {
	a.got = append(a.got, art)
	return "s3://bucket/" + art.Name, nil
}

func newReceiver(t *testing.T, lk link.Link, st store.Store, opts ReceiverOptions) (*ReceiverApp, *engine.Engine) {
	eng, err := engine.New(st, uplink.New(lk), engine.DefaultOptions(), logger.Discard())
	require.NoError(t, err)
	return NewReceiverApp(lk, eng, st, opts, logger.Discard()), eng
}

func frame(t *testing.T, m wire.Message) []byte {
	b, err := wire.DefaultCodec().Encode(m)
	require.NoError(t, err)
	return b
}

func TestSimulatedTransferEndToEnd(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 5000)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range data {
		data[i] = byte(rng.UintN(256))
	}
	src := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(src, data, 0644))

	cfg := config.NewDefaultConfig()
	cfg.Link.TickInterval = time.Millisecond
	cfg.Link.MailboxCheckEvery = 2
	cfg.Transfer.RequestInterval = 3
	cfg.Sender.Pace = time.Millisecond
	cfg.Sender.OpenRetry = 30 * time.Millisecond
	cfg.Simulate.Loss = 0.2
	cfg.Simulate.Reorder = 0.1
	cfg.Simulate.Seed = 7
	require.NoError(t, cfg.Validate())

	st, err := store.NewFileStore(filepath.Join(dir, "store"), logger.Discard())
	require.NoError(t, err)
	archiver := &fakeArchiver{}

	sim := &Simulation{Config: cfg, Store: st, Archiver: archiver, LoggerFactory: logger.Discard()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res, err := sim.Run(ctx, &SenderOptions{FilePath: src, FileID: 0xCAFE, FileVersion: 3})
	require.NoError(t, err)
	require.NoError(t, res.Receiver.Err)
	require.Equal(t, ResultCompleted, res.Receiver.Result)
	require.NoError(t, res.SenderErr)

	key := store.Key{FileID: 0xCAFE, FileVersion: 3}
	got, err := os.ReadFile(st.Path(key))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	sum := sha256.Sum256(data)
	assert.Equal(t, st.Path(key), res.Receiver.Artifact)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Receiver.SHA256)
	assert.Equal(t, crc32.ChecksumIEEE(data), res.Receiver.Completion.CRC32)
	assert.Equal(t, uint32(40), res.Receiver.Completion.Transfer.NumSegments)
	assert.Equal(t, "s3://bucket/0000cafe-3.bin", res.Receiver.ArchiveURI)
	require.Len(t, archiver.got, 1)
	assert.Equal(t, res.Receiver.SHA256, archiver.got[0].SHA256)

	assert.Equal(t, uint64(40), res.Engine.SegmentsWritten)
	assert.Equal(t, uint64(1), res.Engine.Applied)
	assert.Positive(t, res.Channel.DownlinksLost)
	assert.Equal(t, 0, res.Receiver.ExitCode())
}

func TestSimulationSenderFailureStopsReceiver(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Link.TickInterval = time.Millisecond

	sim := &Simulation{Config: cfg, Store: store.NewMemoryStore(), LoggerFactory: logger.Discard()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := sim.Run(ctx, &SenderOptions{FilePath: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	require.Error(t, res.SenderErr)
	assert.Equal(t, ResultAborted, res.Receiver.Result)
	assert.ErrorIs(t, res.Receiver.Err, context.Canceled)
}

func TestReceiverCancelAbortsTransfer(t *testing.T) {
	lk := &scriptedLink{queue: []link.Message{
		{Payload: frame(t, wire.NewOpen(1, 1, 1000)), Port: wire.DefaultPort},
	}}
	r, eng := newReceiver(t, lk, store.NewMemoryStore(), ReceiverOptions{Port: wire.DefaultPort, TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := r.Run(ctx)

	assert.Equal(t, ResultAborted, out.Result)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, engine.StateIdle, eng.State())
	assert.Equal(t, uint64(1), eng.Stats().Aborted)
	assert.Equal(t, 1, out.ExitCode())
}

func TestReceiverDropsForeignPort(t *testing.T) {
	lk := &scriptedLink{queue: []link.Message{
		{Payload: frame(t, wire.NewOpen(1, 1, 1000)), Port: 7},
	}}
	r, eng := newReceiver(t, lk, store.NewMemoryStore(), ReceiverOptions{Port: wire.DefaultPort, TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := r.Run(ctx)

	assert.Equal(t, ResultAborted, out.Result)
	assert.Equal(t, engine.StateIdle, eng.State())
	assert.Zero(t, eng.Stats().ProtocolErrors)
}

func TestReceiverAppliesFromScript(t *testing.T) {
	payload := []byte("hello radio")
	lk := &scriptedLink{queue: []link.Message{
		{Payload: frame(t, wire.NewOpen(2, 5, uint32(len(payload)))), Port: wire.DefaultPort, RSSI: -90, SNR: 9},
		{Payload: frame(t, wire.NewSegmentData(2, 5, 0, payload)), Port: wire.DefaultPort},
	}}
	st := store.NewMemoryStore()
	r, _ := newReceiver(t, lk, st, ReceiverOptions{Port: wire.DefaultPort, TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := r.Run(ctx)

	require.Equal(t, ResultCompleted, out.Result)
	assert.Equal(t, crc32.ChecksumIEEE(payload), out.Completion.CRC32)
	assert.Empty(t, out.Artifact, "memory store keeps no artifact on disk")
	assert.Equal(t, payload, st.Bytes(store.Key{FileID: 2, FileVersion: 5}))

	lk.mu.Lock()
	defer lk.mu.Unlock()
	require.NotEmpty(t, lk.sent)
	apply, err := wire.DefaultCodec().Decode(lk.sent[len(lk.sent)-1])
	require.NoError(t, err)
	assert.Equal(t, wire.TypeApply, apply.Type)
}

func TestReceiverReconfiguresAfterRadioReset(t *testing.T) {
	lk := &scriptedLink{resetAt: 3}
	r, _ := newReceiver(t, lk, store.NewMemoryStore(), ReceiverOptions{Port: wire.DefaultPort, TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	lk.mu.Lock()
	defer lk.mu.Unlock()
	require.Greater(t, lk.polls, 3)
	assert.Equal(t, 2, lk.sets, "mailbox mode set on start and again after the reset")
	assert.Equal(t, link.DownlinkMailbox, lk.cfg.DownlinkMode)
}

func TestReceiverLinkFailureIsFatal(t *testing.T) {
	boom := errors.New("serial port gone")
	lk := &scriptedLink{flagsErr: boom}
	r, _ := newReceiver(t, lk, store.NewMemoryStore(), ReceiverOptions{Port: wire.DefaultPort, TickInterval: time.Millisecond, MaxFailures: 3})

	out := r.Run(context.Background())
	assert.Equal(t, ResultFatal, out.Result)
	assert.ErrorIs(t, out.Err, ErrLinkFailed)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, 1, out.ExitCode())
}

func TestReceiverRejectsZeroTick(t *testing.T) {
	r, _ := newReceiver(t, &scriptedLink{}, store.NewMemoryStore(), ReceiverOptions{Port: wire.DefaultPort})
	out := r.Run(context.Background())
	assert.Equal(t, ResultFatal, out.Result)
	require.Error(t, out.Err)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "COMPLETED", ResultCompleted.String())
	assert.Equal(t, "ABORTED", ResultAborted.String())
	assert.Equal(t, "FATAL", ResultFatal.String())
	assert.Equal(t, "UNKNOWN", Result(9).String())
}
