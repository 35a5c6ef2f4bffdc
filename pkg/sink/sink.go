// Package sink persists result rows into append-only CSV files, one per
// output kind. Every accepted row reaches the operating system before Write
// returns unless a batched flush policy is configured.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind names an output stream. The file is <output dir>/<kind>.csv.
type Kind string

const (
	Ages Kind = "ages"
	Camo Kind = "camo"
)

// Options controls the durability/throughput tradeoff of a sink
type Options struct {
	// FlushEvery flushes buffered rows after this many writes. 1 flushes after
	// every row, which keeps every accepted row on disk if the process dies.
	FlushEvery int
	// Sync additionally fsyncs the file after each flush.
	Sync bool
}

// DefaultOptions flushes after every row without fsync
func DefaultOptions() Options {
	return Options{FlushEvery: 1}
}

// Option mutates Options
type Option func(*Options)

// WithFlushEvery sets the flush interval in rows
func WithFlushEvery(n int) Option {
	return func(o *Options) {
		o.FlushEvery = n
	}
}

// WithSync enables fsync after every flush
func WithSync(sync bool) Option {
	return func(o *Options) {
		o.Sync = sync
	}
}

// OpenError is returned when an output file cannot be created
type OpenError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s sink %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *OpenError) Unwrap() error {
	return e.Err
}

// Sink is one append-only CSV stream
type Sink struct {
	kind    Kind
	path    string
	file    *os.File
	w       *bufio.Writer
	opts    Options
	pending int
	rows    int
	closed  bool
}

// Path returns the file backing the sink
func Path(dir string, kind Kind) string {
	return filepath.Join(dir, string(kind)+".csv")
}

// OpenSink creates or truncates the file for kind inside dir
func OpenSink(dir string, kind Kind, opts Options) (*Sink, error) {
	if opts.FlushEvery < 1 {
		opts.FlushEvery = 1
	}

	path := Path(dir, kind)
	f, err := os.Create(path)
	if err != nil {
		return nil, &OpenError{Kind: kind, Path: path, Err: err}
	}

	return &Sink{
		kind: kind,
		path: path,
		file: f,
		w:    bufio.NewWriter(f),
		opts: opts,
	}, nil
}

// Kind returns the output kind of the sink
func (s *Sink) Kind() Kind {
	return s.kind
}

// Path returns the file path of the sink
func (s *Sink) Path() string {
	return s.path
}

// Rows returns how many rows were accepted
func (s *Sink) Rows() int {
	return s.rows
}

// Write appends one row as its fields joined by commas plus a newline. Fields
// are written verbatim, without quoting.
func (s *Sink) Write(row []string) error {
	if s.closed {
		return fmt.Errorf("write %s sink: %w", s.kind, os.ErrClosed)
	}

	if _, err := s.w.WriteString(strings.Join(row, ",")); err != nil {
		return fmt.Errorf("write %s sink: %w", s.kind, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s sink: %w", s.kind, err)
	}
	s.rows++

	s.pending++
	if s.pending >= s.opts.FlushEvery {
		return s.Flush()
	}
	return nil
}

// Flush pushes buffered rows to the file, and fsyncs when configured
func (s *Sink) Flush() error {
	if s.closed {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush %s sink: %w", s.kind, err)
	}
	s.pending = 0
	if s.opts.Sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync %s sink: %w", s.kind, err)
		}
	}
	return nil
}

// Close flushes and closes the file. Calling it again is a no-op.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	flushErr := s.Flush()
	s.closed = true
	if err := s.file.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close %s sink: %w", s.kind, err))
	}
	return flushErr
}

// Sinks holds the two output streams of a run
type Sinks struct {
	Ages *Sink
	Camo *Sink
}

// Open creates or truncates ages.csv and camo.csv in dir. Both files exist
// once Open succeeds, even if no row is ever written. If the second file
// cannot be opened the first one is closed again.
func Open(dir string, options ...Option) (*Sinks, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}

	ages, err := OpenSink(dir, Ages, opts)
	if err != nil {
		return nil, err
	}
	camo, err := OpenSink(dir, Camo, opts)
	if err != nil {
		ages.Close()
		return nil, err
	}
	return &Sinks{Ages: ages, Camo: camo}, nil
}

// Flush flushes both sinks
func (s *Sinks) Flush() error {
	return errors.Join(s.Ages.Flush(), s.Camo.Flush())
}

// Close closes both sinks; it is safe to call more than once
func (s *Sinks) Close() error {
	return errors.Join(s.Ages.Close(), s.Camo.Close())
}
