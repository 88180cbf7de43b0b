package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"radioftp/internal/wire"
)

var (
	ErrInvalidSegmentSize         = errors.New("segment size must fit in a SegmentData frame")
	ErrInvalidFrameSize           = errors.New("max frame size must be between 32 and 65535 bytes")
	ErrInvalidRequestInterval     = errors.New("request interval must be at least one tick")
	ErrInvalidIndicesPerRequest   = errors.New("indices per request must be greater than 0")
	ErrInvalidTickInterval        = errors.New("tick interval must be greater than 0")
	ErrInvalidLinkType            = errors.New("link type must be serial, webrtc or sim")
	ErrInvalidPort                = errors.New("transfer port must be between 1 and 255")
	ErrInvalidStorageDir          = errors.New("storage directory must be set")
	ErrInvalidLossRate            = errors.New("loss and reorder rates must be between 0 and 1")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
	ErrInvalidArchiveBucket       = errors.New("archive bucket must be set when archiving is enabled")
)

// Config holds all application configuration
type Config struct {
	Link     LinkConfig     `mapstructure:"link" yaml:"link"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Sender   SenderConfig   `mapstructure:"sender" yaml:"sender"`
	Simulate SimulateConfig `mapstructure:"simulate" yaml:"simulate"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc" yaml:"webrtc"`
	Firebase FirebaseConfig `mapstructure:"firebase" yaml:"firebase"`
	Archive  ArchiveConfig  `mapstructure:"archive" yaml:"archive"`
	UI       UIConfig       `mapstructure:"ui" yaml:"ui"`
}

// LinkConfig selects and tunes the radio the receiver polls
type LinkConfig struct {
	Type         string        `mapstructure:"type" yaml:"type"`
	Device       string        `mapstructure:"device" yaml:"device"`
	Baud         int           `mapstructure:"baud" yaml:"baud"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Port         uint8         `mapstructure:"port" yaml:"port"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// MaxFailures ends the receive loop after this many consecutive link
	// errors. Zero keeps polling forever.
	MaxFailures       int `mapstructure:"max_failures" yaml:"max_failures"`
	MailboxCheckEvery int `mapstructure:"mailbox_check_every" yaml:"mailbox_check_every"`
}

// TransferConfig holds the protocol engine's tunables
type TransferConfig struct {
	SegmentSize        uint32 `mapstructure:"segment_size" yaml:"segment_size"`
	MaxFrameSize       int    `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	RequestInterval    int    `mapstructure:"request_interval" yaml:"request_interval"`
	IndicesPerRequest  int    `mapstructure:"indices_per_request" yaml:"indices_per_request"`
	AbortAfterRequests int    `mapstructure:"abort_after_requests" yaml:"abort_after_requests"`
	MaxFileSize        uint32 `mapstructure:"max_file_size" yaml:"max_file_size"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SenderConfig paces the gateway side
type SenderConfig struct {
	Pace      time.Duration `mapstructure:"pace" yaml:"pace"`
	OpenRetry time.Duration `mapstructure:"open_retry" yaml:"open_retry"`
	// MaxOpenRetries gives up after this many unanswered Opens. Zero retries forever.
	MaxOpenRetries int `mapstructure:"max_open_retries" yaml:"max_open_retries"`
}

// SimulateConfig shapes the in-process radio
type SimulateConfig struct {
	Loss    float64 `mapstructure:"loss" yaml:"loss"`
	Reorder float64 `mapstructure:"reorder" yaml:"reorder"`
	Seed    uint64  `mapstructure:"seed" yaml:"seed"`
	RSSI    int16   `mapstructure:"rssi" yaml:"rssi"`
	SNR     uint8   `mapstructure:"snr" yaml:"snr"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers" yaml:"ice_servers"`
	// Signal selects the SDP exchange: manual or firebase.
	Signal       string `mapstructure:"signal" yaml:"signal"`
	ChannelLabel string `mapstructure:"channel_label" yaml:"channel_label"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	DatabaseURL     string `mapstructure:"database_url" yaml:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// ArchiveConfig uploads applied artifacts to S3
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
	Region  string `mapstructure:"region" yaml:"region"`
}

type UIConfig struct {
	Progress bool `mapstructure:"progress" yaml:"progress"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Type:              "serial",
			Device:            "/dev/ttyUSB0",
			Baud:              115200,
			Timeout:           time.Second,
			Port:              wire.DefaultPort,
			TickInterval:      time.Second,
			MaxFailures:       10,
			MailboxCheckEvery: 5,
		},
		Transfer: TransferConfig{
			SegmentSize:        wire.DefaultSegmentSize,
			MaxFrameSize:       wire.DefaultMaxFrameSize,
			RequestInterval:    5,
			IndicesPerRequest:  32,
			AbortAfterRequests: 0,
			MaxFileSize:        16 * 1024 * 1024, // 16 MB
		},
		Storage: StorageConfig{
			Dir: "./radioftp-data",
		},
		Sender: SenderConfig{
			Pace:           50 * time.Millisecond,
			OpenRetry:      10 * time.Second,
			MaxOpenRetries: 0,
		},
		Simulate: SimulateConfig{
			Loss:    0.1,
			Reorder: 0.05,
			Seed:    1,
			RSSI:    -95,
			SNR:     10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
		WebRTC: WebRTCConfig{
			ICEServers:   []string{"stun:stun.l.google.com:19302"},
			Signal:       "manual",
			ChannelLabel: "radio",
		},
		UI: UIConfig{
			Progress: true,
		},
	}
}

// SetDefaults registers every default with v so environment variables and
// flags can override keys that no config file mentions.
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("link.type", d.Link.Type)
	v.SetDefault("link.device", d.Link.Device)
	v.SetDefault("link.baud", d.Link.Baud)
	v.SetDefault("link.timeout", d.Link.Timeout)
	v.SetDefault("link.port", d.Link.Port)
	v.SetDefault("link.tick_interval", d.Link.TickInterval)
	v.SetDefault("link.max_failures", d.Link.MaxFailures)
	v.SetDefault("link.mailbox_check_every", d.Link.MailboxCheckEvery)

	v.SetDefault("transfer.segment_size", d.Transfer.SegmentSize)
	v.SetDefault("transfer.max_frame_size", d.Transfer.MaxFrameSize)
	v.SetDefault("transfer.request_interval", d.Transfer.RequestInterval)
	v.SetDefault("transfer.indices_per_request", d.Transfer.IndicesPerRequest)
	v.SetDefault("transfer.abort_after_requests", d.Transfer.AbortAfterRequests)
	v.SetDefault("transfer.max_file_size", d.Transfer.MaxFileSize)

	v.SetDefault("storage.dir", d.Storage.Dir)

	v.SetDefault("sender.pace", d.Sender.Pace)
	v.SetDefault("sender.open_retry", d.Sender.OpenRetry)
	v.SetDefault("sender.max_open_retries", d.Sender.MaxOpenRetries)

	v.SetDefault("simulate.loss", d.Simulate.Loss)
	v.SetDefault("simulate.reorder", d.Simulate.Reorder)
	v.SetDefault("simulate.seed", d.Simulate.Seed)
	v.SetDefault("simulate.rssi", d.Simulate.RSSI)
	v.SetDefault("simulate.snr", d.Simulate.SNR)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("webrtc.ice_servers", d.WebRTC.ICEServers)
	v.SetDefault("webrtc.signal", d.WebRTC.Signal)
	v.SetDefault("webrtc.channel_label", d.WebRTC.ChannelLabel)

	v.SetDefault("firebase.project_id", d.Firebase.ProjectID)
	v.SetDefault("firebase.database_url", d.Firebase.DatabaseURL)
	v.SetDefault("firebase.credentials_path", d.Firebase.CredentialsPath)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.prefix", d.Archive.Prefix)
	v.SetDefault("archive.region", d.Archive.Region)

	v.SetDefault("ui.progress", d.UI.Progress)
}

// Load builds the effective configuration from v over the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	t := c.Transfer
	if t.MaxFrameSize < 32 || t.MaxFrameSize > 0xFFFF {
		return ErrInvalidFrameSize
	}
	if t.SegmentSize == 0 || int(t.SegmentSize) > t.MaxFrameSize-wire.SegmentDataOverhead {
		return ErrInvalidSegmentSize
	}
	if t.RequestInterval <= 0 {
		return ErrInvalidRequestInterval
	}
	if t.IndicesPerRequest <= 0 {
		return ErrInvalidIndicesPerRequest
	}
	if c.Link.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if c.Link.Port == 0 {
		return ErrInvalidPort
	}
	switch c.Link.Type {
	case "serial", "webrtc", "sim":
	default:
		return ErrInvalidLinkType
	}
	if c.Storage.Dir == "" {
		return ErrInvalidStorageDir
	}
	if c.Simulate.Loss < 0 || c.Simulate.Loss >= 1 || c.Simulate.Reorder < 0 || c.Simulate.Reorder > 1 {
		return ErrInvalidLossRate
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return ErrInvalidArchiveBucket
	}
	return nil
}

// ValidateFirebase checks the settings the Firebase signalling needs.
func (c *Config) ValidateFirebase() error {
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// ICEServers converts the configured URLs for pion.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if len(c.WebRTC.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.WebRTC.ICEServers}}
}
