// Package logging configures the zerolog logger shared by all commands.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New returns a console logger writing to w at the given level.
func New(w io.Writer, level string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(cw).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// NewRun returns a logger for a deployment run. Console output goes to w;
// when logFile is non-empty the same events are appended there as JSON so the
// run can be audited later. Every event carries a short run id. The returned
// closer flushes and closes the file sink.
func NewRun(w io.Writer, level, logFile string) (zerolog.Logger, func() error, error) {
	runID := uuid.NewString()[:8]
	closer := func() error { return nil }

	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	sink := io.Writer(cw)
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		sink = zerolog.MultiLevelWriter(cw, f)
		closer = f.Close
	}
	l := zerolog.New(sink).Level(ParseLevel(level)).With().Timestamp().Str("run", runID).Logger()
	return l, closer, nil
}
