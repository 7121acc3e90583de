package pktsim

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel is shared by every logger the package creates, so that
// SetLogLevel takes effect after SetLogOutput and vice versa
var logLevel = new(slog.LevelVar)

var logger = newLogger(os.Stderr)

func init() {
	logLevel.Set(slog.LevelWarn)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns the logger the simulator writes to
func Logger() *slog.Logger {
	return logger
}

// SetLogOutput directs log records to w
func SetLogOutput(w io.Writer) {
	logger = newLogger(w)
}

// SetLogLevel sets the lowest level that is written
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLogLevel converts "debug", "info", "warn" or "error" (any case) to a level
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(s)))
	return level, err
}
