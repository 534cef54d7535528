// Package log provides structured logging for Supernova, one zerolog
// logger per core component.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the root logger; component loggers derive from it.
var Logger zerolog.Logger

// Component loggers. Reconfigured together whenever Init runs.
var (
	Chain      zerolog.Logger
	Validation zerolog.Logger
	Mempool    zerolog.Logger
	Storage    zerolog.Logger
	Wal        zerolog.Logger
	Lightning  zerolog.Logger
	Node       zerolog.Logger
)

// components maps field values to the logger variables above.
var components = map[string]*zerolog.Logger{
	"chain":      &Chain,
	"validation": &Validation,
	"mempool":    &Mempool,
	"storage":    &Storage,
	"wal":        &Wal,
	"lightning":  &Lightning,
	"node":       &Node,
}

// levelNames maps the accepted --log-level values. Unknown names fall back
// to info.
var levelNames = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

func init() {
	configure(os.Stdout, zerolog.InfoLevel, false, nil)
}

// Init reconfigures the root and component loggers. Console output is
// human-formatted unless jsonOutput is set; a non-empty file additionally
// receives the raw JSON stream for machine parsing.
func Init(level string, jsonOutput bool, file string) error {
	lvl, ok := levelNames[level]
	if !ok {
		lvl = zerolog.InfoLevel
	}

	var fileOut io.Writer
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		fileOut = f
	}

	configure(os.Stdout, lvl, jsonOutput, fileOut)
	return nil
}

// configure assembles the output stack and rebuilds every component logger.
// The file writer, when present, sits behind a MultiLevelWriter and always
// sees JSON (the console formatter only wraps the console stream).
func configure(console io.Writer, lvl zerolog.Level, jsonOutput bool, fileOut io.Writer) {
	out := console
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}
	}
	if fileOut != nil {
		out = zerolog.MultiLevelWriter(out, fileOut)
	}

	Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	for name, target := range components {
		*target = WithComponent(name)
	}
}

// WithComponent derives a logger tagged with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Root-logger shorthands for call sites outside any component.

// Debug starts a debug event.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info event.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warning event.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error event.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal event; the message call exits the process.
func Fatal() *zerolog.Event { return Logger.Fatal() }
