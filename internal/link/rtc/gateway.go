package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"radioftp/internal/link"
)

// maxBufferedAmount is how much unsent data the lossy channel may hold
// before downlinks are refused as busy.
const maxBufferedAmount = 64 * 1024

// Gateway is the network end of the bridge.
type Gateway struct {
	peer    *Peer
	chans   *pair
	uplinks chan link.Message
	log     logging.LeveledLogger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ link.Gateway = (*Gateway)(nil)

// NewGateway opens the bridge's channels on peer. Call it before creating
// the offer.
func NewGateway(peer *Peer, label string, depth int, loggerFactory logging.LoggerFactory) (*Gateway, error) {
	if depth <= 0 {
		depth = link.DefaultQueueDepth
	}
	g := &Gateway{
		peer:    peer,
		chans:   newPair(label),
		uplinks: make(chan link.Message, depth),
		log:     loggerFactory.NewLogger("link"),
		closed:  make(chan struct{}),
	}

	ordered := false
	maxRetransmits := uint16(0)
	lossy, err := peer.PeerConnection().CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	reliable, err := peer.PeerConnection().CreateDataChannel(label+reliableSuffix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	for _, dc := range []*webrtc.DataChannel{lossy, reliable} {
		g.chans.attach(dc)
		g.setupDataChannelHandlers(dc)
	}
	return g, nil
}

func (g *Gateway) setupDataChannelHandlers(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		g.log.Infof("Data channel opened: %s", dc.Label())
		g.chans.opened()
	})
	dc.OnClose(func() {
		g.log.Infof("Data channel closed: %s", dc.Label())
	})
	dc.OnError(func(err error) {
		g.log.Warnf("Data channel error: %v", err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := decodeDatagram(msg.Data)
		if err != nil {
			g.log.Warnf("Dropping uplink: %v", err)
			return
		}
		select {
		case g.uplinks <- m:
		case <-g.closed:
		default:
			g.log.Warnf("Uplink queue full, dropping %d bytes", len(m.Payload))
		}
	})
}

// WaitReady blocks until both channels are open.
func (g *Gateway) WaitReady(ctx context.Context) error {
	return waitReady(ctx, g.chans, g.peer)
}

func (g *Gateway) Downlink(ctx context.Context, payload []byte, port uint8) error {
	select {
	case <-g.closed:
		return link.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDatagram(port, payload)
	if err != nil {
		return err
	}
	dc := g.chans.channel(false)
	if dc == nil || !g.chans.isReady() {
		return ErrNotReady
	}
	if dc.BufferedAmount() > maxBufferedAmount {
		return &link.NackError{Op: "downlink", Code: link.NackBusyTryAgain}
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

func (g *Gateway) Uplink(ctx context.Context) (link.Message, error) {
	select {
	case msg := <-g.uplinks:
		return msg, nil
	case err := <-g.peer.Failures():
		return link.Message{}, err
	case <-g.closed:
		return link.Message{}, link.ErrClosed
	case <-ctx.Done():
		return link.Message{}, ctx.Err()
	}
}

func (g *Gateway) Close() error {
	g.closeOnce.Do(func() { close(g.closed) })
	return g.peer.Close()
}
