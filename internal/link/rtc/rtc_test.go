package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radioftp/internal/link"
	"radioftp/internal/logger"
)

func TestDatagram(t *testing.T) {
	data, err := encodeDatagram(128, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{128, 1, 2, 3}, data)

	msg, err := decodeDatagram(data)
	require.NoError(t, err)
	assert.Equal(t, link.Message{Port: 128, Payload: []byte{1, 2, 3}}, msg)

	_, err = encodeDatagram(1, nil)
	require.ErrorIs(t, err, link.ErrInvalidParameter)
	_, err = encodeDatagram(1, make([]byte, link.MaxPayload+1))
	require.ErrorIs(t, err, link.ErrInvalidParameter)

	_, err = decodeDatagram([]byte{7})
	require.ErrorIs(t, err, ErrShortDatagram)
	_, err = decodeDatagram(make([]byte, link.MaxPayload+2))
	require.ErrorIs(t, err, link.ErrPayloadTooLarge)
}

func TestConnectionFailureError(t *testing.T) {
	err := &ConnectionFailureError{State: webrtc.PeerConnectionStateFailed, Role: "device"}
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, "connection failed for device", err.Error())
}

// connect negotiates two in-process peers over loopback.
func connect(t *testing.T, offerer, answerer *Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opc, apc := offerer.PeerConnection(), answerer.PeerConnection()

	offer, err := opc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(opc)
	require.NoError(t, opc.SetLocalDescription(offer))
	select {
	case <-gathered:
	case <-ctx.Done():
		t.Fatal("offer gathering timed out")
	}

	require.NoError(t, apc.SetRemoteDescription(*opc.LocalDescription()))
	answer, err := apc.CreateAnswer(nil)
	require.NoError(t, err)
	gathered = webrtc.GatheringCompletePromise(apc)
	require.NoError(t, apc.SetLocalDescription(answer))
	select {
	case <-gathered:
	case <-ctx.Done():
		t.Fatal("answer gathering timed out")
	}
	require.NoError(t, opc.SetRemoteDescription(*apc.LocalDescription()))
}

func TestBridgeOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates a real peer connection")
	}
	lf := logger.Discard()

	gwPeer, err := NewPeer(PeerOptions{Role: "gateway", IncludeLoopback: true}, lf)
	require.NoError(t, err)
	devPeer, err := NewPeer(PeerOptions{Role: "device", IncludeLoopback: true}, lf)
	require.NoError(t, err)

	gw, err := NewGateway(gwPeer, "radio", 0, lf)
	require.NoError(t, err)
	dev := NewDevice(devPeer, "radio", 1, 0, lf)
	defer gw.Close()
	defer dev.Close()

	connect(t, gwPeer, devPeer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, gw.WaitReady(ctx))
	require.NoError(t, dev.WaitReady(ctx))

	require.NoError(t, dev.SetConfig(link.RadioConfig{DownlinkMode: link.DownlinkAlwaysOn}))
	require.NoError(t, gw.Downlink(ctx, []byte("open"), 128))

	buf := make([]byte, link.MaxPayload)
	require.Eventually(t, func() bool {
		flags, err := dev.IRQFlags(link.IRQRxDone)
		return err == nil && flags.Has(link.IRQRxDone)
	}, 5*time.Second, 10*time.Millisecond)
	msg, err := dev.Retrieve(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(128), msg.Port)
	assert.Equal(t, []byte("open"), msg.Payload)

	require.NoError(t, dev.Send([]byte("apply"), true, 128))
	up, err := gw.Uplink(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("apply"), up.Payload)

	require.NoError(t, dev.Close())
	_, err = dev.IRQFlags(0)
	require.ErrorIs(t, err, link.ErrClosed)
}

func TestNotReady(t *testing.T) {
	lf := logger.Discard()
	peer, err := NewPeer(PeerOptions{Role: "gateway"}, lf)
	require.NoError(t, err)
	gw, err := NewGateway(peer, "radio", 4, lf)
	require.NoError(t, err)
	defer gw.Close()

	require.ErrorIs(t, gw.Downlink(context.Background(), []byte{1}, 1), ErrNotReady)

	devPeer, err := NewPeer(PeerOptions{Role: "device"}, lf)
	require.NoError(t, err)
	dev := NewDevice(devPeer, "radio", 1, 4, lf)
	require.ErrorIs(t, dev.Send([]byte{1}, false, 1), ErrNotReady)
	require.Error(t, dev.SetConfig(link.RadioConfig{DownlinkMode: 9}))
	require.NoError(t, dev.Close())

	require.NoError(t, gw.Close())
	require.ErrorIs(t, gw.Downlink(context.Background(), []byte{1}, 1), link.ErrClosed)
}
