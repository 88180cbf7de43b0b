package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"radioftp/internal/link"
)

// ErrNotReady is returned when a data channel has not opened yet.
var ErrNotReady = errors.New("data channel not open")

// pair tracks the lossy and reliable channels of one bridge end.
type pair struct {
	mu        sync.Mutex
	label     string
	lossy     *webrtc.DataChannel
	reliable  *webrtc.DataChannel
	open      int
	ready     chan struct{}
	readyOnce sync.Once
}

func newPair(label string) *pair {
	return &pair{label: label, ready: make(chan struct{})}
}

// attach registers dc and reports whether it belongs to the pair.
func (p *pair) attach(dc *webrtc.DataChannel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch dc.Label() {
	case p.label:
		p.lossy = dc
	case p.label + reliableSuffix:
		p.reliable = dc
	default:
		return false
	}
	return true
}

func (p *pair) opened() {
	p.mu.Lock()
	p.open++
	both := p.open >= 2
	p.mu.Unlock()
	if both {
		p.readyOnce.Do(func() { close(p.ready) })
	}
}

func (p *pair) channel(acked bool) *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acked {
		return p.reliable
	}
	return p.lossy
}

func (p *pair) isReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

func waitReady(ctx context.Context, p *pair, peer *Peer) error {
	select {
	case <-p.ready:
		return nil
	case err := <-peer.Failures():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Device is the module end of the bridge. Downlinks from the gateway land
// in a mailbox so polling behaves like a real module.
type Device struct {
	peer    *Peer
	chans   *pair
	mailbox *link.Mailbox
	log     logging.LeveledLogger

	mu     sync.Mutex
	cfg    link.RadioConfig
	closed bool
}

var _ link.Link = (*Device)(nil)

// NewDevice accepts the channels the gateway opens under label.
func NewDevice(peer *Peer, label string, checkEvery, depth int, loggerFactory logging.LoggerFactory) *Device {
	d := &Device{
		peer:    peer,
		chans:   newPair(label),
		mailbox: link.NewMailbox(checkEvery, depth),
		log:     loggerFactory.NewLogger("link"),
		cfg:     link.RadioConfig{DownlinkMode: link.DownlinkMailbox},
	}

	peer.PeerConnection().OnDataChannel(func(dc *webrtc.DataChannel) {
		if !d.chans.attach(dc) {
			d.log.Warnf("Ignoring unexpected data channel %s", dc.Label())
			return
		}
		d.log.Debugf("Received data channel: %s", dc.Label())
		dc.OnOpen(func() {
			d.log.Infof("Data channel opened: %s", dc.Label())
			d.chans.opened()
		})
		dc.OnClose(func() {
			d.log.Infof("Data channel closed: %s", dc.Label())
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			m, err := decodeDatagram(msg.Data)
			if err != nil {
				d.log.Warnf("Dropping downlink: %v", err)
				return
			}
			if err := d.mailbox.Enqueue(m); err != nil {
				d.log.Warnf("Dropping downlink: %v", err)
			}
		})
	})
	return d
}

// WaitReady blocks until both channels are open.
func (d *Device) WaitReady(ctx context.Context) error {
	return waitReady(ctx, d.chans, d.peer)
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) IRQFlags(clear link.IRQFlags) (link.IRQFlags, error) {
	if d.isClosed() {
		return 0, link.ErrClosed
	}
	return d.mailbox.Poll(clear), nil
}

func (d *Device) Retrieve(buf []byte) (link.Message, error) {
	if d.isClosed() {
		return link.Message{}, link.ErrClosed
	}
	return d.mailbox.RetrieveInto(buf)
}

func (d *Device) Send(payload []byte, acked bool, port uint8) error {
	if d.isClosed() {
		return link.ErrClosed
	}
	data, err := encodeDatagram(port, payload)
	if err != nil {
		return err
	}
	dc := d.chans.channel(acked)
	if dc == nil || !d.chans.isReady() {
		return ErrNotReady
	}
	if err := dc.Send(data); err != nil {
		d.mailbox.Raise(link.IRQTxError)
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	d.mailbox.Raise(link.IRQTxDone)
	return nil
}

func (d *Device) Config() (link.RadioConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return link.RadioConfig{}, link.ErrClosed
	}
	return d.cfg, nil
}

func (d *Device) SetConfig(cfg link.RadioConfig) error {
	switch cfg.DownlinkMode {
	case link.DownlinkOff, link.DownlinkAlwaysOn, link.DownlinkMailbox:
	default:
		return &link.NackError{Op: "config set", Code: link.NackPayloadOOR}
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return link.ErrClosed
	}
	d.cfg = cfg
	d.mu.Unlock()
	d.mailbox.SetMode(cfg.DownlinkMode)
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.peer.Close()
}
