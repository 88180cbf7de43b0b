package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"radioftp/internal/link/rtc"
	"radioftp/internal/signalling"
)

const (
	sessionPollInterval = time.Second
	sessionPollAttempts = 300
)

// createSignaling picks the SDP exchange configured under webrtc.signal.
func createSignaling(ctx context.Context) (*signalling.SignalingService, error) {
	var server signalling.SignalingServer
	switch cfg.WebRTC.Signal {
	case "firebase":
		if err := cfg.ValidateFirebase(); err != nil {
			return nil, err
		}
		client, err := signalling.NewDatabase(ctx, &cfg.Firebase)
		if err != nil {
			return nil, err
		}
		server = signalling.NewSessionServer(signalling.NewFirebaseStore(client),
			sessionPollInterval, sessionPollAttempts, loggerFactory)
	case "manual", "":
		server = signalling.NewManualServer(os.Stdin, os.Stdout)
	default:
		return nil, fmt.Errorf("unknown signalling method %q", cfg.WebRTC.Signal)
	}
	return signalling.NewSignalingService(server, &signalling.WebRTCHandler{}, os.Stdout, loggerFactory), nil
}

func createPeer(role string) (*rtc.Peer, error) {
	return rtc.NewPeer(rtc.PeerOptions{ICEServers: cfg.ICEServers(), Role: role}, loggerFactory)
}
