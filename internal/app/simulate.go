package app

import (
	"context"
	"fmt"

	"github.com/pion/logging"

	"radioftp/internal/config"
	"radioftp/internal/engine"
	"radioftp/internal/link/sim"
	"radioftp/internal/sender"
	"radioftp/internal/store"
	"radioftp/internal/uplink"
)

// Simulation runs a sender and a receiver in-process over the simulated radio.
type Simulation struct {
	Config        *config.Config
	Store         store.Store
	Observer      engine.Observer
	Progress      sender.Progress
	Archiver      Archiver
	LoggerFactory logging.LoggerFactory
}

// SimulationResult reports both ends of a simulated transfer
type SimulationResult struct {
	Receiver  Outcome
	Sender    sender.Result
	SenderErr error
	Engine    engine.Stats
	Channel   sim.Stats
}

// Run transfers the file in opts and returns once both ends have stopped.
func (s *Simulation) Run(ctx context.Context, opts *SenderOptions) (SimulationResult, error) {
	cfg := s.Config
	radio := sim.New(sim.Options{
		Loss:              cfg.Simulate.Loss,
		Reorder:           cfg.Simulate.Reorder,
		Seed:              cfg.Simulate.Seed,
		MailboxCheckEvery: cfg.Link.MailboxCheckEvery,
		RSSI:              cfg.Simulate.RSSI,
		SNR:               cfg.Simulate.SNR,
	})
	device := radio.Device()
	gw := radio.Gateway()
	defer gw.Close()

	eng, err := engine.New(s.Store, uplink.New(device), EngineOptions(cfg), s.LoggerFactory)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("failed to create engine: %w", err)
	}
	if s.Observer != nil {
		eng.SetObserver(s.Observer)
	}
	receiver := NewReceiverApp(device, eng, s.Store, ReceiverOptionsFromConfig(cfg), s.LoggerFactory)
	if s.Archiver != nil {
		receiver.SetArchiver(s.Archiver)
	}

	senderApp := NewSenderApp(cfg, gw, s.LoggerFactory)
	if s.Progress != nil {
		senderApp.SetProgress(s.Progress)
	}

	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()

	type sendResult struct {
		res sender.Result
		err error
	}
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	sendDone := make(chan sendResult, 1)
	go func() {
		res, err := senderApp.Run(sendCtx, opts)
		if err != nil {
			// Nothing more will arrive.
			cancelRecv()
		}
		sendDone <- sendResult{res, err}
	}()

	var result SimulationResult
	result.Receiver = receiver.Run(recvCtx)
	if result.Receiver.Result != ResultCompleted {
		cancelSend()
	}

	var sent sendResult
	select {
	case sent = <-sendDone:
	case <-ctx.Done():
		cancelSend()
		sent = <-sendDone
	}

	result.Sender = sent.res
	result.SenderErr = sent.err
	result.Engine = eng.Stats()
	result.Channel = radio.Stats()
	return result, nil
}
