// Package logging wires the process-wide structured logger: logiface
// fronting zerolog, console-writer output on a terminal and plain JSON lines
// otherwise.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the concrete logger type used by every package in this module.
type Logger = logiface.Logger[*izerolog.Event]

// Builder is the fluent chain returned by Logger's level methods.
type Builder = logiface.Builder[*izerolog.Event]

// New builds a Logger writing to w at the given minimum level. w defaults to
// os.Stderr if nil.
func New(level logiface.Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.L.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// ParseLevel maps lowercase level names onto logiface's syslog-style levels;
// an unrecognized name maps to the informational level.
func ParseLevel(s string) logiface.Level {
	switch s {
	case "trace":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "warn", "warning":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
