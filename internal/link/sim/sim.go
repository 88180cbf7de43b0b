// Package sim is an in-process radio: a device link and a gateway joined
// by a lossy channel with mailbox downlink semantics.
package sim

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sync"

	"radioftp/internal/link"
)

type Options struct {
	// Loss is the probability that an unacknowledged frame is dropped.
	Loss float64
	// Reorder is the probability that a downlink is held back and delivered
	// after the next one.
	Reorder float64
	Seed    uint64

	MailboxCheckEvery int
	QueueDepth        int

	// RSSI and SNR are stamped on every delivered downlink.
	RSSI int16
	SNR  uint8
}

// Stats counts what the channel did to traffic.
type Stats struct {
	Downlinks     int
	DownlinksLost int
	Uplinks       int
	UplinksLost   int
	Reordered     int
}

// Radio joins one device to one gateway.
type Radio struct {
	opts    Options
	mailbox *link.Mailbox
	uplinks chan link.Message

	mu     sync.Mutex
	rng    *rand.Rand
	cfg    link.RadioConfig
	held   *link.Message
	stats  Stats
	closed chan struct{}
	once   sync.Once
}

func New(opts Options) *Radio {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = link.DefaultQueueDepth
	}
	r := &Radio{
		opts:    opts,
		mailbox: link.NewMailbox(opts.MailboxCheckEvery, opts.QueueDepth),
		uplinks: make(chan link.Message, opts.QueueDepth),
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15)),
		closed:  make(chan struct{}),
		cfg:     link.RadioConfig{DownlinkMode: link.DownlinkMailbox},
	}
	return r
}

func (r *Radio) Device() *Device   { return &Device{r: r} }
func (r *Radio) Gateway() *Gateway { return &Gateway{r: r} }

func (r *Radio) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// DownlinkMode returns the mode the device last configured.
func (r *Radio) DownlinkMode() link.DownlinkMode {
	return r.mailbox.Mode()
}

func (r *Radio) lose(p float64) bool {
	return p > 0 && r.rng.Float64() < p
}

func (r *Radio) close() {
	r.once.Do(func() { close(r.closed) })
}

func (r *Radio) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Device is the module side of the radio.
type Device struct {
	r *Radio
}

var _ link.Link = (*Device)(nil)

func (d *Device) IRQFlags(clear link.IRQFlags) (link.IRQFlags, error) {
	if d.r.isClosed() {
		return 0, link.ErrClosed
	}
	return d.r.mailbox.Poll(clear), nil
}

func (d *Device) Retrieve(buf []byte) (link.Message, error) {
	if d.r.isClosed() {
		return link.Message{}, link.ErrClosed
	}
	return d.r.mailbox.RetrieveInto(buf)
}

// Send delivers an uplink. Acknowledged frames are retried by the link
// layer until they get through; unacknowledged ones may be lost.
func (d *Device) Send(payload []byte, acked bool, port uint8) error {
	r := d.r
	if r.isClosed() {
		return link.ErrClosed
	}
	if len(payload) == 0 || len(payload) > link.MaxPayload {
		return link.ErrInvalidParameter
	}

	r.mu.Lock()
	r.stats.Uplinks++
	lost := !acked && r.lose(r.opts.Loss)
	if lost {
		r.stats.UplinksLost++
	}
	r.mu.Unlock()

	r.mailbox.Raise(link.IRQTxDone)
	if lost {
		return nil
	}

	select {
	case r.uplinks <- link.Message{Payload: bytes.Clone(payload), Port: port}:
		return nil
	default:
		return &link.NackError{Op: "message send", Code: link.NackQueueFull}
	}
}

func (d *Device) Config() (link.RadioConfig, error) {
	if d.r.isClosed() {
		return link.RadioConfig{}, link.ErrClosed
	}
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	return d.r.cfg, nil
}

func (d *Device) SetConfig(cfg link.RadioConfig) error {
	if d.r.isClosed() {
		return link.ErrClosed
	}
	switch cfg.DownlinkMode {
	case link.DownlinkOff, link.DownlinkAlwaysOn, link.DownlinkMailbox:
	default:
		return &link.NackError{Op: "config set", Code: link.NackPayloadOOR}
	}
	d.r.mu.Lock()
	d.r.cfg = cfg
	d.r.mu.Unlock()
	d.r.mailbox.SetMode(cfg.DownlinkMode)
	return nil
}

func (d *Device) Close() error {
	d.r.close()
	return nil
}

// Gateway is the network side of the radio.
type Gateway struct {
	r *Radio
}

var _ link.Gateway = (*Gateway)(nil)

// Downlink queues a frame for the device. A lost frame is not an error: the
// sender cannot tell.
func (g *Gateway) Downlink(ctx context.Context, payload []byte, port uint8) error {
	r := g.r
	if r.isClosed() {
		return link.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := link.Message{Payload: bytes.Clone(payload), Port: port, RSSI: r.opts.RSSI, SNR: r.opts.SNR}

	r.mu.Lock()
	r.stats.Downlinks++
	if r.lose(r.opts.Loss) {
		r.stats.DownlinksLost++
		r.mu.Unlock()
		return nil
	}
	var deliver []link.Message
	switch {
	case r.held == nil && r.lose(r.opts.Reorder):
		r.held = &msg
		r.stats.Reordered++
	case r.held != nil:
		deliver = []link.Message{msg, *r.held}
		r.held = nil
	default:
		deliver = []link.Message{msg}
	}
	r.mu.Unlock()

	for _, m := range deliver {
		if err := r.mailbox.Enqueue(m); err != nil {
			return err
		}
	}
	return nil
}

// Flush releases a frame held back for reordering.
func (g *Gateway) Flush() error {
	r := g.r
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.mu.Unlock()
	if held == nil {
		return nil
	}
	return r.mailbox.Enqueue(*held)
}

func (g *Gateway) Uplink(ctx context.Context) (link.Message, error) {
	select {
	case msg := <-g.r.uplinks:
		return msg, nil
	case <-g.r.closed:
		return link.Message{}, link.ErrClosed
	case <-ctx.Done():
		return link.Message{}, ctx.Err()
	}
}

func (g *Gateway) Close() error {
	g.r.close()
	return nil
}
