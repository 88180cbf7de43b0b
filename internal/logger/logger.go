// Package logger builds the leveled loggers every component logs through.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
)

// ParseLevel maps a level name to a pion log level.
func ParseLevel(name string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", name)
	}
}

// NewFactory returns a logger factory writing to w (stderr when nil) at the
// given level. The same factory is handed to pion's WebRTC stack, whose own
// scopes are capped at warn to keep ICE chatter out of transfer logs.
func NewFactory(level string, w io.Writer) (*logging.DefaultLoggerFactory, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	f := logging.NewDefaultLoggerFactory()
	f.Writer = w
	f.DefaultLogLevel = lvl
	f.ScopeLevels = make(map[string]logging.LogLevel)
	for _, scope := range []string{"ice", "dtls", "sctp", "pc", "datachannel", "mux"} {
		f.ScopeLevels[scope] = min(lvl, logging.LogLevelWarn)
	}
	return f, nil
}

// Discard returns a factory that drops everything.
func Discard() *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = io.Discard
	f.DefaultLogLevel = logging.LogLevelDisabled
	f.ScopeLevels = map[string]logging.LogLevel{}
	return f
}
