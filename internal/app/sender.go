package app

import (
	"context"
	"fmt"
	"os"

	"github.com/pion/logging"

	"radioftp/internal/config"
	"radioftp/internal/link"
	"radioftp/internal/sender"
	"radioftp/pkg/utils"
)

// SenderOptions configures the sender application behavior
type SenderOptions struct {
	FilePath    string // Required: path to file to send
	FileID      uint32
	FileVersion uint32
}

// SenderApp serves a file to a device over a gateway
type SenderApp struct {
	config        *config.Config
	gateway       link.Gateway
	progress      sender.Progress
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

// NewSenderApp creates a new sender application
func NewSenderApp(cfg *config.Config, gw link.Gateway, loggerFactory logging.LoggerFactory) *SenderApp {
	return &SenderApp{
		config:        cfg,
		gateway:       gw,
		loggerFactory: loggerFactory,
		log:           loggerFactory.NewLogger("app"),
	}
}

// SetProgress enables progress display
func (s *SenderApp) SetProgress(p sender.Progress) { s.progress = p }

// Run sends the file with the given options
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) (sender.Result, error) {
	if opts.FilePath == "" {
		return sender.Result{}, fmt.Errorf("file path is required")
	}
	data, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return sender.Result{}, fmt.Errorf("failed to read file: %w", err)
	}

	snd, err := sender.New(s.gateway, data, SenderOptionsFromConfig(s.config, opts.FileID, opts.FileVersion), s.loggerFactory)
	if err != nil {
		return sender.Result{}, fmt.Errorf("failed to create sender: %w", err)
	}
	if s.progress != nil {
		snd.SetProgress(s.progress)
	}

	s.log.Infof("Serving %s (%s, %d segments) as file 0x%08x v%d",
		opts.FilePath, utils.FormatFileSize(int64(len(data))), snd.Segments(), opts.FileID, opts.FileVersion)

	res, err := snd.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("transfer failed: %w", err)
	}
	s.log.Infof("File 0x%08x v%d delivered in %s", opts.FileID, opts.FileVersion, res.Elapsed)
	return res, nil
}
