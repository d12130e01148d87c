// Package logging provides the simulator's structured logging: a leveled,
// per-component sub-logger over zerolog, grounded on the teacher's
// pkg/reporting/logger.go (NewLogger/WithField/level parsing), trimmed to
// the console/JSON output selection the CLI's --log-format flag needs.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a leveled-logging severity, matching §6's --loglevel enum.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the sink's wire format, matching the [EXPANDED]
// --log-format flag.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config controls how New builds its sink.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger wraps a zerolog.Logger with the component-tagging convention the
// rest of the simulator uses: one sub-logger per package, created via
// WithComponent, so every record carries its origin.
type Logger struct {
	z zerolog.Logger
}

// New builds a root Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var writer io.Writer = out
	if cfg.Format == FormatConsole {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: false}
	}
	z := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return &Logger{z: z}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child Logger tagging every record with
// component=name, e.g. logging.New(cfg).WithComponent("network").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{z: l.z.With().Str("component", name).Logger()}
}

// WithField returns a child Logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(l.z.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(l.z.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(l.z.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(l.z.Error(), msg, fields) }

func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}
