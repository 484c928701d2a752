// Package logging builds the installer's zerolog logger: human-readable lines
// on the console and JSON lines in the install log.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options configure New.
type Options struct {
	Level zerolog.Level
	// File is the install log. When it cannot be opened a file of the same
	// base name in the working directory is tried.
	File    string
	Console io.Writer
}

// Sink is the opened log file, nil when logging to the console only.
type Sink struct {
	File *os.File
}

func (s *Sink) Path() string {
	if s == nil || s.File == nil {
		return ""
	}
	return s.File.Name()
}

func (s *Sink) Sync() {
	if s != nil && s.File != nil {
		_ = s.File.Sync()
	}
}

func (s *Sink) Close() error {
	if s == nil || s.File == nil {
		return nil
	}
	return s.File.Close()
}

// New returns a logger writing at opts.Level to the console and at debug to
// the log file.
func New(opts Options) (zerolog.Logger, *Sink, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05", NoColor: !IsTerminal(console)}
	writers := []io.Writer{filtered{w: cw, min: opts.Level}}

	sink := &Sink{}
	if opts.File != "" {
		f, err := open(opts.File)
		if err != nil {
			return zerolog.New(cw).Level(opts.Level).With().Timestamp().Logger(), nil, err
		}
		sink.File = f
		writers = append(writers, f)
	}
	min := opts.Level
	if sink.File != nil && min > zerolog.DebugLevel {
		min = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(min).With().Timestamp().Logger()
	return logger, sink, nil
}

func open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640); err == nil {
			return f, nil
		}
	}
	return os.OpenFile(filepath.Base(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// filtered drops events below min so the console can stay quieter than the
// log file.
type filtered struct {
	w   io.Writer
	min zerolog.Level
}

func (f filtered) Write(p []byte) (int, error) { return f.w.Write(p) }

func (f filtered) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}
