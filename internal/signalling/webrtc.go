package signalling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// WebRTCHandler implements SDPHandler for vanilla ICE: descriptions are
// exchanged once gathering is complete.
type WebRTCHandler struct{}

var _ SDPHandler = (*WebRTCHandler)(nil)

func (h *WebRTCHandler) CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	return setLocal(peerConn, "offer", func() (webrtc.SessionDescription, error) {
		return peerConn.CreateOffer(nil)
	})
}

func (h *WebRTCHandler) CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	if peerConn.RemoteDescription() == nil {
		return nil, fmt.Errorf("cannot answer before the offer is applied")
	}
	return setLocal(peerConn, "answer", func() (webrtc.SessionDescription, error) {
		return peerConn.CreateAnswer(nil)
	})
}

// setLocal creates a description and starts ICE gathering by applying it.
func setLocal(peerConn *webrtc.PeerConnection, kind string, create func() (webrtc.SessionDescription, error)) (*webrtc.SessionDescription, error) {
	sd, err := create()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	if err := peerConn.SetLocalDescription(sd); err != nil {
		return nil, fmt.Errorf("failed to set local %s: %w", kind, err)
	}
	return &sd, nil
}

// WaitForICEGathering blocks until every local candidate is in the local
// description, which is what the peer receives.
func (h *WebRTCHandler) WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error {
	select {
	case <-webrtc.GatheringCompletePromise(peerConn):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ICE gathering incomplete (%s): %w", peerConn.ICEGatheringState(), ctx.Err())
	}
}
