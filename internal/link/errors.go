package link

import (
	"errors"
	"fmt"
)

// NackCode is the reason a module refused a command.
type NackCode uint8

const (
	NackCmdNotSupported    NackCode = 1
	NackIncorrectChecksum  NackCode = 2
	NackPayloadLenOOR      NackCode = 3
	NackPayloadOOR         NackCode = 4
	NackBootupInProgress   NackCode = 5
	NackBusyTryAgain       NackCode = 6
	NackAppTokenReg        NackCode = 7
	NackPayloadLenExceeded NackCode = 8
	NackNotInMailboxMode   NackCode = 9
	NackPayloadBadProperty NackCode = 10
	NackNoData             NackCode = 11
	NackQueueFull          NackCode = 12
	NackOther              NackCode = 99
)

func (c NackCode) String() string {
	switch c {
	case NackCmdNotSupported:
		return "command not supported"
	case NackIncorrectChecksum:
		return "incorrect checksum"
	case NackPayloadLenOOR:
		return "payload length out of range"
	case NackPayloadOOR:
		return "payload out of range"
	case NackBootupInProgress:
		return "not allowed, bootup in progress"
	case NackBusyTryAgain:
		return "busy try again"
	case NackAppTokenReg:
		return "application token not registered"
	case NackPayloadLenExceeded:
		return "payload length greater than maximum"
	case NackNotInMailboxMode:
		return "module is not in mailbox mode"
	case NackPayloadBadProperty:
		return "bad property"
	case NackNoData:
		return "no data available"
	case NackQueueFull:
		return "queue full"
	case NackOther:
		return "other"
	default:
		return fmt.Sprintf("nack %d", uint8(c))
	}
}

// NackError is returned when the module answers a command with a NACK.
type NackError struct {
	Op   string
	Code NackCode
}

func (e *NackError) Error() string {
	return fmt.Sprintf("%s: NACK received - %s", e.Op, e.Code)
}

// IsNack reports whether err carries a NACK with the given code.
func IsNack(err error, code NackCode) bool {
	var nack *NackError
	return errors.As(err, &nack) && nack.Code == code
}

// Host-side failures talking to a module.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMsgNumMismatch   = errors.New("message number mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrCommandMismatch  = errors.New("command mismatch")
	ErrTimeout          = errors.New("timed out")
	ErrPayloadTooLarge  = errors.New("payload larger than buffer provided")
	ErrClosed           = errors.New("link closed")
)
