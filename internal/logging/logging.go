// Package logging builds the prefixed loggers the historyd subsystems
// share. Log output goes to stderr and, when a log file is configured, to
// a size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File is the rotated log file path. Empty disables file logging.
	File string

	// MaxSizeMB is the size a log file may reach before rotation.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int
}

// Setup returns a factory producing loggers with bracketed subsystem
// prefixes ("[daemon] ", "[merge] ") that share one destination. The
// returned closer stops the file writer, if any.
func Setup(opts Options) (func(prefix string) *log.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	return func(prefix string) *log.Logger {
		return log.New(w, "["+prefix+"] ", log.LstdFlags)
	}, closer
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
