// Package kernlog is the kernel's internal trace/debug logging facade,
// independent of the console package (which is the portable kernel's own
// externally-specified §6 collaborator, not a debugging aid). Everything
// above this package that wants to log thread lifecycle transitions,
// context switches, timer arm/fire events, or IPC wake-ups calls through
// here so the logging backend can be swapped without touching kernel
// logic — exactly the separation the teacher's own console/log split
// (textcolor.go vs log.go) models, generalized to a leveled logger.
package kernlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the leveled logger kernel packages accept at construction
// time. Every method is a no-op on a nil *Logger. New returns a logger
// at the level the caller gives; Discard returns a silent one.
type Logger struct {
	l *log.Logger
}

// New builds a Logger writing to w at the given level. Pass io.Discard
// for a silent logger (the default for unit tests).
func New(w io.Writer, level log.Level) *Logger {
	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "nanort",
	})
	return &Logger{l: l}
}

// Discard returns a Logger that drops everything — the default for
// package-level tests that don't care about trace output.
func Discard() *Logger {
	return New(io.Discard, log.FatalLevel+1)
}

// Stderr returns a Logger writing to os.Stderr at the given level, for
// use by the demo binaries.
func Stderr(level log.Level) *Logger {
	return New(os.Stderr, level)
}

// Debug logs a kernel trace event at debug level. The thread manager
// logs thread init, startup and exit here; context switches, timer
// events and IPC wake-ups are not logged.
func (lg *Logger) Debug(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Debug(msg, kv...)
}

// Info logs a kernel lifecycle event at info level (kernel.New logs
// kernel initialization here; IPC object create/delete is not logged).
func (lg *Logger) Info(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Info(msg, kv...)
}

// Warn logs a recoverable anomaly (e.g. saturation, a timeout on a
// blocking IPC call).
func (lg *Logger) Warn(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Warn(msg, kv...)
}

// Error logs a fatal-adjacent condition the caller is about to return an
// error code for.
func (lg *Logger) Error(msg string, kv ...any) {
	if lg == nil {
		return
	}
	lg.l.Error(msg, kv...)
}
