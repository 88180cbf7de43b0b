package app

import (
	"radioftp/internal/config"
	"radioftp/internal/engine"
	"radioftp/internal/sender"
)

// EngineOptions derives the engine's tunables from cfg.
func EngineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		SegmentSize:        cfg.Transfer.SegmentSize,
		MaxFrameSize:       cfg.Transfer.MaxFrameSize,
		Port:               cfg.Link.Port,
		RequestInterval:    cfg.Transfer.RequestInterval,
		IndicesPerRequest:  cfg.Transfer.IndicesPerRequest,
		AbortAfterRequests: cfg.Transfer.AbortAfterRequests,
		MaxFileSize:        cfg.Transfer.MaxFileSize,
	}
}

func ReceiverOptionsFromConfig(cfg *config.Config) ReceiverOptions {
	return ReceiverOptions{
		Port:         cfg.Link.Port,
		TickInterval: cfg.Link.TickInterval,
		MaxFailures:  cfg.Link.MaxFailures,
	}
}

func SenderOptionsFromConfig(cfg *config.Config, fileID, fileVersion uint32) sender.Options {
	return sender.Options{
		FileID:         fileID,
		FileVersion:    fileVersion,
		SegmentSize:    cfg.Transfer.SegmentSize,
		MaxFrameSize:   cfg.Transfer.MaxFrameSize,
		Port:           cfg.Link.Port,
		Pace:           cfg.Sender.Pace,
		OpenRetry:      cfg.Sender.OpenRetry,
		MaxOpenRetries: cfg.Sender.MaxOpenRetries,
	}
}
