package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrEmptyDescription is returned for a blank pasted description.
var ErrEmptyDescription = errors.New("session description is empty")

// EncodeSessionDescription turns sd into one base64 line that survives
// copy and paste through a terminal or a database field.
func EncodeSessionDescription(sd webrtc.SessionDescription) (string, error) {
	raw, err := json.Marshal(sd)
	if err != nil {
		return "", fmt.Errorf("failed to encode session description: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSessionDescription reverses EncodeSessionDescription. Whitespace
// picked up while pasting is ignored.
func DecodeSessionDescription(encoded string) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription

	encoded = strings.Join(strings.Fields(encoded), "")
	if encoded == "" {
		return sd, ErrEmptyDescription
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return sd, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("failed to decode session description: %w", err)
	}
	if sd.SDP == "" {
		return sd, fmt.Errorf("failed to decode session description: no SDP")
	}
	return sd, nil
}
