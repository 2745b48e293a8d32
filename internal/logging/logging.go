// Package logging routes component loggers into one rotating log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the process log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 5
	MaxAgeDays = 28
)

// Options configures the process log.
type Options struct {
	// File is the log file path. Empty disables the file.
	File string

	// Stderr tees log lines to stderr.
	Stderr bool
}

// Sink is the shared destination of every component logger.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// Open creates the log directory and the rotating writer.
func Open(opts Options) (*Sink, error) {
	var writers []io.Writer
	s := &Sink{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, s.file)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	switch len(writers) {
	case 0:
		s.out = io.Discard
	case 1:
		s.out = writers[0]
	default:
		s.out = io.MultiWriter(writers...)
	}
	return s, nil
}

// New returns a logger for component, prefixed "[component] ".
func (s *Sink) New(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Writer exposes the combined destination.
func (s *Sink) Writer() io.Writer { return s.out }

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
