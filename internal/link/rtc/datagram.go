package rtc

import (
	"errors"
	"fmt"

	"radioftp/internal/link"
)

var ErrShortDatagram = errors.New("datagram too short")

// reliableSuffix names the ordered, retransmitting channel beside the lossy one.
const reliableSuffix = "-acked"

// encodeDatagram frames a radio message as Port(1) | payload.
func encodeDatagram(port uint8, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > link.MaxPayload {
		return nil, fmt.Errorf("%w: %d byte payload", link.ErrInvalidParameter, len(payload))
	}
	out := make([]byte, 1+len(payload))
	out[0] = port
	copy(out[1:], payload)
	return out, nil
}

func decodeDatagram(data []byte) (link.Message, error) {
	if len(data) < 2 {
		return link.Message{}, ErrShortDatagram
	}
	if len(data)-1 > link.MaxPayload {
		return link.Message{}, fmt.Errorf("%w: %d byte payload", link.ErrPayloadTooLarge, len(data)-1)
	}
	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return link.Message{Port: data[0], Payload: payload}, nil
}
