package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

var (
	settingsMu sync.RWMutex
	baseLevel  = "info"
	console    bool
)

// Configure sets the level and format used by loggers created afterwards.
// APP_ENV=dev and LOG_LEVEL still take precedence.
func Configure(level, format string) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	if level != "" {
		baseLevel = level
	}
	console = format == "console"
}

// NewZerologLogger writes JSON to stdout, or a console format when APP_ENV=dev.
// Every entry carries the component field.
func NewZerologLogger(component string) Logger {
	settingsMu.RLock()
	level, pretty := baseLevel, console
	settingsMu.RUnlock()
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		pretty = true
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newZerolog(out, component, level)
}

func newZerolog(out io.Writer, component, level string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(out).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Warnw(msg string, fields map[string]any) {
	l.log.Warn().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
