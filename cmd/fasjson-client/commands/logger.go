package commands

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Logger writes human readable logs to the terminal through zerolog.
// It implements fasjson.Logger so the client library logs through it too.
type Logger struct {
	logger zerolog.Logger
}

var _ fasjson.Logger = (*Logger)(nil)

// NewLogger creates a console logger writing to w. The level is info,
// debug when verbose and error when quiet.
func NewLogger(w io.Writer, verbose, quiet bool) *Logger {
	level := zerolog.InfoLevel

	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.ErrorLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !isTerminal(w),
		TimeFormat: time.TimeOnly,
	}

	return &Logger{
		logger: zerolog.New(console).Level(level).With().Timestamp().Logger(),
	}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug().Fields(fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info().Fields(fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn().Fields(fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error().Fields(fields).Msg(msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}
