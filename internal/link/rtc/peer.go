// Package rtc carries radio frames over a WebRTC data channel so a gateway
// and a device can run in separate processes. The lossy channel is
// unordered with no retransmissions; acknowledged uplinks use a second,
// reliable channel.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ErrConnectionFailed is reported when the peer connection fails or closes.
var ErrConnectionFailed = errors.New("peer connection failed")

// ConnectionFailureError represents a connection failure
type ConnectionFailureError struct {
	State webrtc.PeerConnectionState
	Role  string
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection %s for %s", e.State, e.Role)
}

func (e *ConnectionFailureError) Unwrap() error { return ErrConnectionFailed }

// PeerOptions configures a peer connection
type PeerOptions struct {
	ICEServers []webrtc.ICEServer
	Role       string
	// IncludeLoopback gathers 127.0.0.1 candidates, for peers on one host.
	IncludeLoopback bool
}

// Peer owns one WebRTC peer connection
type Peer struct {
	pc          *webrtc.PeerConnection
	role        string
	log         logging.LeveledLogger
	failureChan chan error
	closeOnce   sync.Once
}

// NewPeer creates a peer connection whose pion internals log through
// loggerFactory.
func NewPeer(opts PeerOptions, loggerFactory logging.LoggerFactory) (*Peer, error) {
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		pc:          pc,
		role:        opts.Role,
		log:         loggerFactory.NewLogger("rtc"),
		failureChan: make(chan error, 1),
	}
	pc.OnConnectionStateChange(p.handleConnectionStateChange)
	return p, nil
}

// PeerConnection returns the underlying connection for signalling
func (p *Peer) PeerConnection() *webrtc.PeerConnection { return p.pc }

// Failures delivers at most one error once the connection fails or closes
func (p *Peer) Failures() <-chan error { return p.failureChan }

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.pc.Close() })
	return err
}

func (p *Peer) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	p.log.Infof("Peer connection state has changed: %s (%s)", state, p.role)

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		select {
		case p.failureChan <- &ConnectionFailureError{State: state, Role: p.role}:
		default:
		}
	}
}
