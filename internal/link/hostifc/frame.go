// Package hostifc talks to a radio module over its serial host interface.
package hostifc

import (
	"encoding/binary"
	"fmt"
	"io"

	"radioftp/internal/link"
)

// Frame structure:
//
//	request:  Sync(1) | Cmd(1) | MsgNum(1) | Len(2) | Payload | CRC16(2)
//	response: Sync(1) | Cmd(1) | MsgNum(1) | Ack(1) | Len(2) | Payload | CRC16(2)
//
// Multi-byte fields are big-endian. The CRC-16/CCITT covers everything
// between the sync byte and the checksum.
const (
	SyncByte = 0xC4

	// MaxFramePayload bounds the payload a single command carries.
	MaxFramePayload = 1024

	// Ack byte value for a successful command; anything else is a NackCode.
	AckOK = 0x00
)

// Command opcodes.
const (
	CmdVersion     = 0x00
	CmdIRQFlags    = 0x10
	CmdMsgSend     = 0x20
	CmdRetrieveMsg = 0x21
	CmdConfigGet   = 0x30
	CmdConfigSet   = 0x31
)

// frame is one decoded request or response.
type frame struct {
	cmd     uint8
	msgNum  uint8
	ack     uint8
	payload []byte
}

// crc16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// encodeFrame serializes f. Responses carry the ack byte.
func encodeFrame(f frame, response bool) ([]byte, error) {
	if len(f.payload) > MaxFramePayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", link.ErrInvalidParameter, len(f.payload))
	}
	out := make([]byte, 0, 8+len(f.payload))
	out = append(out, SyncByte, f.cmd, f.msgNum)
	if response {
		out = append(out, f.ack)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(f.payload)))
	out = append(out, f.payload...)
	out = binary.BigEndian.AppendUint16(out, crc16(out[1:]))
	return out, nil
}

// readFrame reads one frame from r, skipping noise before the sync byte.
func readFrame(r io.Reader, response bool) (frame, error) {
	var one [1]byte
	for {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return frame{}, err
		}
		if one[0] == SyncByte {
			break
		}
	}

	headerLen := 4
	if response {
		headerLen = 5
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}

	f := frame{cmd: header[0], msgNum: header[1]}
	if response {
		f.ack = header[2]
	}
	n := int(binary.BigEndian.Uint16(header[headerLen-2:]))
	if n > MaxFramePayload {
		return frame{}, fmt.Errorf("%w: frame declares %d payload bytes", link.ErrPayloadTooLarge, n)
	}

	rest := make([]byte, n+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return frame{}, err
	}
	f.payload = rest[:n]

	want := binary.BigEndian.Uint16(rest[n:])
	if got := crc16(append(header, f.payload...)); got != want {
		return frame{}, fmt.Errorf("%w: got 0x%04x, want 0x%04x", link.ErrChecksumMismatch, got, want)
	}
	return f, nil
}

// encodeConfig lays out a RadioConfig as the config get/set payload.
func encodeConfig(cfg link.RadioConfig) []byte {
	out := make([]byte, 0, configPayloadLen)
	out = binary.BigEndian.AppendUint32(out, cfg.NetToken)
	out = append(out, cfg.AppToken[:]...)
	out = append(out, uint8(cfg.DownlinkMode), cfg.QoS)
	return out
}

const configPayloadLen = 4 + link.AppTokenLen + 2

func decodeConfig(p []byte) (link.RadioConfig, error) {
	if len(p) != configPayloadLen {
		return link.RadioConfig{}, fmt.Errorf("%w: config payload of %d bytes", link.ErrInvalidParameter, len(p))
	}
	var cfg link.RadioConfig
	cfg.NetToken = binary.BigEndian.Uint32(p)
	copy(cfg.AppToken[:], p[4:4+link.AppTokenLen])
	cfg.DownlinkMode = link.DownlinkMode(p[4+link.AppTokenLen])
	cfg.QoS = p[5+link.AppTokenLen]
	return cfg, nil
}
