package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. Components take the zerolog.Logger it
// hands out and tag it with their own name.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger opens the configured output and builds the logger.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	return NewLoggerWithWriter(out, cfg), nil
}

// NewLoggerWithWriter builds a logger writing to w.
func NewLoggerWithWriter(w io.Writer, cfg LoggingConfig) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	zlog := ctx.Logger()
	if cfg.SampleEvery > 1 {
		zlog = zlog.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	return &Logger{zlog: zlog}
}

// Zerolog returns the underlying logger. A nil Logger discards.
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zlog
}

// NewComponentLogger tags entries with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.Zerolog().With().Str("component", component).Logger()}
}

// WithJobID tags entries with a flight's job id.
func (l *Logger) WithJobID(jobID string) *Logger {
	return &Logger{zlog: l.Zerolog().With().Str("job_id", jobID).Logger()}
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
