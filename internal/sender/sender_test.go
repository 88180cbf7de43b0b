package sender

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radioftp/internal/link"
	"radioftp/internal/logger"
	"radioftp/internal/wire"
)

const testPort = 128

// fakeGateway records downlinks and lets tests inject uplinks.
type fakeGateway struct {
	codec   *wire.Codec
	frames  chan wire.Message
	uplinks chan link.Message

	mu     sync.Mutex
	refuse int
	sent   []wire.Message
}

func newFakeGateway(t *testing.T) *fakeGateway {
	codec, err := wire.NewCodec(128, 256)
	require.NoError(t, err)
	return &fakeGateway{
		codec:   codec,
		frames:  make(chan wire.Message, 64),
		uplinks: make(chan link.Message, 8),
	}
}

func (g *fakeGateway) Downlink(ctx context.Context, payload []byte, port uint8) error {
	msg, err := g.codec.Decode(bytes.Clone(payload))
	if err != nil {
		return err
	}
	g.mu.Lock()
	if g.refuse > 0 && msg.Type == wire.TypeSegmentData {
		g.refuse--
		g.mu.Unlock()
		return &link.NackError{Op: "message send", Code: link.NackQueueFull}
	}
	g.sent = append(g.sent, msg)
	g.mu.Unlock()

	select {
	case g.frames <- msg:
	default:
	}
	return nil
}

func (g *fakeGateway) Uplink(ctx context.Context) (link.Message, error) {
	select {
	case msg := <-g.uplinks:
		return msg, nil
	case <-ctx.Done():
		return link.Message{}, ctx.Err()
	}
}

func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) reply(t *testing.T, msg wire.Message, port uint8) {
	frame, err := g.codec.Encode(msg)
	require.NoError(t, err)
	g.uplinks <- link.Message{Payload: frame, Port: port}
}

func (g *fakeGateway) next(t *testing.T) wire.Message {
	t.Helper()
	select {
	case msg := <-g.frames:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a downlink")
		return wire.Message{}
	}
}

func (g *fakeGateway) opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range g.sent {
		if m.Type == wire.TypeOpen {
			n++
		}
	}
	return n
}

type recordingProgress struct {
	mu      sync.Mutex
	total   uint32
	updates []uint32
	ok      *bool
}

func (p *recordingProgress) Start(_ string, total, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

func (p *recordingProgress) Update(done uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, done)
}

func (p *recordingProgress) Finish(ok bool, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ok = &ok
}

func testOptions() Options {
	return Options{
		FileID:       0xCAFE,
		FileVersion:  3,
		SegmentSize:  128,
		MaxFrameSize: 256,
		Port:         testPort,
		Pace:         time.Millisecond,
		OpenRetry:    time.Minute,
	}
}

func testData() []byte {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

type runResult struct {
	res Result
	err error
}

func start(t *testing.T, ctx context.Context, g *fakeGateway, data []byte, opts Options) (*Sender, <-chan runResult) {
	s, err := New(g, data, opts, logger.Discard())
	require.NoError(t, err)
	done := make(chan runResult, 1)
	go func() {
		res, err := s.Run(ctx)
		done <- runResult{res, err}
	}()
	return s, done
}

func wait(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not finish")
		return runResult{}
	}
}

func TestStreamsAndFinishesOnApply(t *testing.T) {
	g := newFakeGateway(t)
	data := testData()
	opts := testOptions()
	s, err := New(g, data, opts, logger.Discard())
	require.NoError(t, err)
	progress := &recordingProgress{}
	s.SetProgress(progress)
	assert.Equal(t, uint32(3), s.Segments())

	done := make(chan runResult, 1)
	go func() {
		res, err := s.Run(context.Background())
		done <- runResult{res, err}
	}()

	open := g.next(t)
	assert.Equal(t, wire.NewOpen(0xCAFE, 3, 300), open)
	for i, off := range []uint32{0, 128, 256} {
		seg := g.next(t)
		require.Equal(t, wire.TypeSegmentData, seg.Type, "segment %d", i)
		assert.Equal(t, off, seg.Offset)
		end := min(int(off)+128, len(data))
		assert.Equal(t, data[off:end], seg.Payload)
	}

	g.reply(t, wire.NewApply(0xCAFE, 3, 300), testPort)
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 3, r.res.Sent)
	assert.Zero(t, r.res.Resent)

	progress.mu.Lock()
	defer progress.mu.Unlock()
	assert.Equal(t, uint32(3), progress.total)
	require.NotNil(t, progress.ok)
	assert.True(t, *progress.ok)
	assert.Equal(t, uint32(3), progress.updates[len(progress.updates)-1])
}

func TestResendsRequestedSegments(t *testing.T) {
	g := newFakeGateway(t)
	_, done := start(t, context.Background(), g, testData(), testOptions())

	for range 4 {
		g.next(t)
	}
	g.reply(t, wire.NewSegmentRequest(0xCAFE, 3, []uint32{1, 9}), testPort)

	seg := g.next(t)
	assert.Equal(t, wire.TypeSegmentData, seg.Type)
	assert.Equal(t, uint32(128), seg.Offset)

	g.reply(t, wire.NewApply(0xCAFE, 3, 300), testPort)
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 4, r.res.Sent)
	assert.Equal(t, 1, r.res.Resent)
	assert.Equal(t, 1, r.res.Requests)
}

func TestIgnoresForeignTraffic(t *testing.T) {
	g := newFakeGateway(t)
	_, done := start(t, context.Background(), g, testData(), testOptions())

	for range 4 {
		g.next(t)
	}
	g.reply(t, wire.NewApply(0xCAFE, 3, 300), testPort+1)
	g.reply(t, wire.NewApply(0xBEEF, 3, 300), testPort)
	g.uplinks <- link.Message{Payload: []byte{1, 2, 3}, Port: testPort}

	select {
	case r := <-done:
		t.Fatalf("sender finished early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	g.reply(t, wire.NewApply(0xCAFE, 3, 300), testPort)
	require.NoError(t, wait(t, done).err)
}

func TestRejectedByDevice(t *testing.T) {
	g := newFakeGateway(t)
	_, done := start(t, context.Background(), g, testData(), testOptions())

	g.next(t)
	g.reply(t, wire.NewClose(0xCAFE, 3), testPort)
	require.ErrorIs(t, wait(t, done).err, ErrRejected)
}

func TestApplyWithWrongSize(t *testing.T) {
	g := newFakeGateway(t)
	_, done := start(t, context.Background(), g, testData(), testOptions())

	g.next(t)
	g.reply(t, wire.NewApply(0xCAFE, 3, 299), testPort)
	require.Error(t, wait(t, done).err)
}

func TestOpenRetries(t *testing.T) {
	g := newFakeGateway(t)
	opts := testOptions()
	opts.OpenRetry = 5 * time.Millisecond
	opts.MaxOpenRetries = 2
	_, done := start(t, context.Background(), g, testData(), opts)

	r := wait(t, done)
	require.ErrorIs(t, r.err, ErrNoResponse)
	assert.Equal(t, 2, r.res.OpenRetries)
	assert.Equal(t, 3, g.opens())
}

func TestHoldsSegmentWhenQueueFull(t *testing.T) {
	g := newFakeGateway(t)
	g.refuse = 2
	_, done := start(t, context.Background(), g, testData(), testOptions())

	assert.Equal(t, wire.TypeOpen, g.next(t).Type)
	for _, off := range []uint32{0, 128, 256} {
		seg := g.next(t)
		assert.Equal(t, off, seg.Offset)
	}
	g.reply(t, wire.NewApply(0xCAFE, 3, 300), testPort)
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 3, r.res.Sent)
}

func TestCancel(t *testing.T) {
	g := newFakeGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, done := start(t, ctx, g, testData(), testOptions())

	g.next(t)
	cancel()
	require.True(t, errors.Is(wait(t, done).err, context.Canceled))
}

func TestNewValidation(t *testing.T) {
	g := newFakeGateway(t)

	_, err := New(g, nil, testOptions(), logger.Discard())
	require.ErrorIs(t, err, ErrEmptyFile)

	opts := testOptions()
	opts.Pace = 0
	_, err = New(g, testData(), opts, logger.Discard())
	require.Error(t, err)

	opts = testOptions()
	opts.SegmentSize = 250
	_, err = New(g, testData(), opts, logger.Discard())
	require.ErrorIs(t, err, wire.ErrRange)
}
