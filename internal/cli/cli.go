// Package cli holds the flag, logging and lifecycle helpers shared by the
// screenview binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
)

// Environment variables read as flag defaults.
const (
	EnvTCPPort       = "TCP_PORT"
	EnvUDPPort       = "UDP_PORT"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLeaseDuration = "LEASE_DURATION"
)

// EnvString returns the value of key, or def if it is unset or empty.
func EnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// EnvPort returns the port in key, or def if it is unset.
func EnvPort(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if err := ValidatePort(port); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return port, nil
}

// EnvDuration returns the duration in key, or def if it is unset. A bare
// number is read as seconds.
func EnvDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseUint(v, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// ValidatePort checks that port can be listened on. Zero picks a free port.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLoggerFactory returns a logger factory writing to w at the named level.
func NewLoggerFactory(level string, w io.Writer) (logging.LoggerFactory, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = lvl
	if w != nil {
		lf.Writer = w
	}
	return lf, nil
}

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Stopper is a service with a blocking shutdown.
type Stopper interface {
	Stop() error
}

// RunUntilDone blocks until ctx ends and then stops svc.
func RunUntilDone(ctx context.Context, svc Stopper, log logging.LeveledLogger) error {
	<-ctx.Done()
	if log != nil {
		log.Info("shutting down")
	}
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}
