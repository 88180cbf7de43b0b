// Package link describes the radio transport the transfer engine runs on:
// the device-side module interface, the gateway side that feeds it, and
// the values they exchange.
package link

import (
	"context"
	"fmt"
	"strings"
)

// MaxPayload is the largest frame a radio message carries.
const MaxPayload = 256

// IRQFlags is the module's interrupt status word.
type IRQFlags uint32

const (
	IRQWdogReset              IRQFlags = 0x00000001
	IRQReset                  IRQFlags = 0x00000002
	IRQTxDone                 IRQFlags = 0x00000010
	IRQTxError                IRQFlags = 0x00000020
	IRQRxDone                 IRQFlags = 0x00000040
	IRQConnected              IRQFlags = 0x00001000
	IRQDisconnected           IRQFlags = 0x00002000
	IRQCryptoEstablished      IRQFlags = 0x00010000
	IRQAppTokenConfirmed      IRQFlags = 0x00020000
	IRQDownlinkRequestAck     IRQFlags = 0x00040000
	IRQInitializationComplete IRQFlags = 0x00080000
	IRQCryptoError            IRQFlags = 0x00100000
	IRQAppTokenError          IRQFlags = 0x00200000
	IRQAssert                 IRQFlags = 0x80000000
)

var irqNames = []struct {
	flag IRQFlags
	name string
}{
	{IRQAssert, "ASSERT"},
	{IRQAppTokenError, "APP_TOKEN_ERROR"},
	{IRQCryptoError, "CRYPTO_ERROR"},
	{IRQDownlinkRequestAck, "DOWNLINK_REQUEST_ACK"},
	{IRQInitializationComplete, "INITIALIZATION_COMPLETE"},
	{IRQAppTokenConfirmed, "APP_TOKEN_CONFIRMED"},
	{IRQCryptoEstablished, "CRYPTO_ESTABLISHED"},
	{IRQDisconnected, "DISCONNECTED"},
	{IRQConnected, "CONNECTED"},
	{IRQRxDone, "RX_DONE"},
	{IRQTxError, "TX_ERROR"},
	{IRQTxDone, "TX_DONE"},
	{IRQReset, "RESET"},
	{IRQWdogReset, "WDOG_RESET"},
}

// Has reports whether every bit of f is set.
func (i IRQFlags) Has(f IRQFlags) bool { return i&f == f }

func (i IRQFlags) String() string {
	if i == 0 {
		return "[]"
	}
	var names []string
	rest := i
	for _, n := range irqNames {
		if i&n.flag != 0 {
			names = append(names, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return "[" + strings.Join(names, "|") + "]"
}

// DownlinkMode is the module's receive policy.
type DownlinkMode uint8

const (
	DownlinkOff      DownlinkMode = 0
	DownlinkAlwaysOn DownlinkMode = 1
	DownlinkMailbox  DownlinkMode = 2
)

func (m DownlinkMode) String() string {
	switch m {
	case DownlinkOff:
		return "OFF"
	case DownlinkAlwaysOn:
		return "ALWAYS_ON"
	case DownlinkMailbox:
		return "MAILBOX"
	default:
		return fmt.Sprintf("DownlinkMode(%d)", uint8(m))
	}
}

// AppTokenLen is the size of an application token.
const AppTokenLen = 10

// RadioConfig is the module configuration read and written as one unit.
type RadioConfig struct {
	NetToken     uint32
	AppToken     [AppTokenLen]byte
	DownlinkMode DownlinkMode
	QoS          uint8
}

// Message is one received radio frame. An empty Payload means no message
// was pending.
type Message struct {
	Payload []byte
	Port    uint8
	RSSI    int16
	SNR     uint8
}

// Link is the device side of the radio: the module the host talks to.
type Link interface {
	// IRQFlags returns the current flags and then clears the bits in clear.
	IRQFlags(clear IRQFlags) (IRQFlags, error)
	// Retrieve copies the next pending message into buf.
	Retrieve(buf []byte) (Message, error)
	Send(payload []byte, acked bool, port uint8) error
	Config() (RadioConfig, error)
	SetConfig(cfg RadioConfig) error
	Close() error
}

// Gateway is the network side of the radio: it queues downlinks toward a
// device and receives the device's uplinks.
type Gateway interface {
	Downlink(ctx context.Context, payload []byte, port uint8) error
	Uplink(ctx context.Context) (Message, error)
	Close() error
}
