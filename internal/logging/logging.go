// Package logging configures the process-wide structured logger:
// text-vs-json handler branching, and "Configure returns *slog.Logger
// and also sets it as the process default".
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"strings"
)

// Config mirrors internal/config.LoggingConfig; kept separate so this
// package has no dependency on internal/config.
type Config struct {
	Level  string
	Format string // "text" or "json"

	// Syslog redirects output to the local syslog daemon instead of
	// stderr, set by the "-b" (background) flag: forking after
	// goroutines have started is unsafe, so backgrounding means "run
	// in the foreground but log like a daemon" instead.
	Syslog bool
}

// Configure builds the process logger and installs it as slog's default.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)

	out, err := openSink(cfg.Syslog)
	if err != nil {
		// Fall back to stderr rather than fail the process over a
		// logging backend; the failure itself is still reported.
		fmt.Fprintf(os.Stderr, "logging: syslog unavailable, falling back to stderr: %v\n", err)
		out = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func openSink(useSyslog bool) (io.Writer, error) {
	if !useSyslog {
		return os.Stderr, nil
	}
	return syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "utdns")
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
