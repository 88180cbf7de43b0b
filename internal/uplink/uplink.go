// Package uplink adapts a radio link to the two things the transfer engine
// needs from it: sending a frame and switching the downlink receive mode.
package uplink

import (
	"fmt"

	"radioftp/internal/link"
)

// Radio is the subset of link.Link the mediator uses.
type Radio interface {
	Send(payload []byte, acked bool, port uint8) error
	Config() (link.RadioConfig, error)
	SetConfig(cfg link.RadioConfig) error
}

// Mediator wraps a Radio.
type Mediator struct {
	radio Radio
}

func New(radio Radio) *Mediator {
	return &Mediator{radio: radio}
}

// Send passes a frame through to the radio.
func (m *Mediator) Send(payload []byte, acked bool, port uint8) error {
	if err := m.radio.Send(payload, acked, port); err != nil {
		return fmt.Errorf("uplink send: %w", err)
	}
	return nil
}

// SetDownlink switches between always-on (on) and mailbox (off) receive,
// keeping the rest of the radio configuration as read.
func (m *Mediator) SetDownlink(on bool) error {
	cfg, err := m.radio.Config()
	if err != nil {
		return fmt.Errorf("config get: %w", err)
	}

	cfg.DownlinkMode = link.DownlinkMailbox
	if on {
		cfg.DownlinkMode = link.DownlinkAlwaysOn
	}

	if err := m.radio.SetConfig(cfg); err != nil {
		return fmt.Errorf("config set: %w", err)
	}
	return nil
}
