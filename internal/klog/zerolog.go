package klog

import (
	"io"

	"github.com/rs/zerolog"
)

// Zerolog wraps github.com/rs/zerolog as the production backend, the same
// library the pack's logiface-zerolog module adapts for its own Logger
// facade. The kernel never imports zerolog outside this file.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog builds a Zerolog backend writing to out at the given minimum
// level.
func NewZerolog(out io.Writer, level Level) *Zerolog {
	zl := zerolog.New(out).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &Zerolog{logger: zl}
}

func toZerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel dynamically changes the minimum log level.
func (z *Zerolog) SetLevel(level Level) {
	z.logger = z.logger.Level(toZerologLevel(level))
}

// IsEnabled reports whether level would be logged.
func (z *Zerolog) IsEnabled(level Level) bool {
	return toZerologLevel(level) >= z.logger.GetLevel()
}

// Log emits entry through zerolog's event builder.
func (z *Zerolog) Log(entry Entry) {
	var ev *zerolog.Event
	switch entry.Level {
	case LevelDebug:
		ev = z.logger.Debug()
	case LevelWarn:
		ev = z.logger.Warn()
	case LevelError:
		ev = z.logger.Error()
	default:
		ev = z.logger.Info()
	}
	if !ev.Enabled() {
		return
	}
	ev = ev.Str("category", entry.Category)
	if entry.TaskID != 0 {
		ev = ev.Int32("task", entry.TaskID)
	}
	if entry.VectorID != 0 {
		ev = ev.Int32("vector", entry.VectorID)
	}
	if entry.SyscallNo != 0 {
		ev = ev.Int32("sysno", entry.SyscallNo)
	}
	if entry.ChannelID != 0 {
		ev = ev.Int32("channel", entry.ChannelID)
	}
	for k, v := range entry.Fields {
		ev = ev.Interface(k, v)
	}
	if entry.Err != nil {
		ev = ev.Err(entry.Err)
	}
	ev.Msg(entry.Message)
}
