package signalling

import (
	"context"
	"fmt"
	"io"

	"radioftp/pkg/utils"
)

// ManualServer exchanges descriptions by copy and paste on the console.
// It has no session IDs.
type ManualServer struct {
	in  io.Reader
	out io.Writer
}

var _ SignalingServer = (*ManualServer)(nil)

func NewManualServer(in io.Reader, out io.Writer) *ManualServer {
	return &ManualServer{in: in, out: out}
}

func (m *ManualServer) CreateSession(ctx context.Context, offer string) (string, error) {
	fmt.Fprintf(m.out, "Paste this offer into the device:\n\n%s\n\n", offer)
	return "", nil
}

func (m *ManualServer) GetOffer(ctx context.Context, _ string) (string, error) {
	return utils.Prompt(ctx, m.in, m.out, "Offer from gateway: ", validDescription)
}

func (m *ManualServer) UpdateAnswer(ctx context.Context, _ string, answer string) error {
	fmt.Fprintf(m.out, "Paste this answer into the gateway:\n\n%s\n\n", answer)
	return nil
}

func (m *ManualServer) WaitForAnswer(ctx context.Context, _ string) (string, error) {
	return utils.Prompt(ctx, m.in, m.out, "Answer from device: ", validDescription)
}

func (m *ManualServer) DeleteSession(context.Context, string) error { return nil }

func validDescription(s string) bool {
	_, err := utils.DecodeSessionDescription(s)
	return err == nil
}
