// Package tradelog persists trade records as one append-only CSV file per symbol.
package tradelog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"tradecollector/internal/model"
)

var ErrClosed = errors.New("trade log closed")

// AppendError reports a record that could not be persisted.
type AppendError struct {
	Symbol string
	Err    error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append trade to %s log: %v", e.Symbol, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// Options tune durability of a Store.
type Options struct {
	// Fsync forces an fsync after every record instead of leaving it to the OS.
	Fsync bool
}

// Store is the append-only trade log of a single symbol.
type Store struct {
	symbol string
	path   string
	opts   Options

	mu     sync.Mutex
	file   *os.File
	closed bool
	// torn is set after a failed write, which may have left a partial row.
	torn bool
}

// Path returns the file path for symbol's log in dir.
func Path(dir, symbol string) string {
	return filepath.Join(dir, symbol+".csv")
}

// Open opens symbol's log for appending, creating it with the header line when absent.
// Reopening an existing log never rewrites the header.
func Open(dir, symbol string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trade log directory: %w", err)
	}

	path := Path(dir, symbol)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade log %s: %w", path, err)
	}

	s := &Store{
		symbol: symbol,
		path:   path,
		opts:   opts,
		file:   f,
	}
	if err := s.prepare(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("prepare trade log %s: %w", path, err)
	}
	return s, nil
}

// prepare writes the header into an empty file, or terminates a line torn by a crash.
func (s *Store) prepare() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		line, err := renderRow(model.CSVHeader)
		if err != nil {
			return err
		}
		if _, err := s.file.Write(line); err != nil {
			return err
		}
		return s.file.Sync()
	}
	return s.terminateTail(info.Size())
}

// terminateTail appends a newline when the file does not already end in one.
func (s *Store) terminateTail(size int64) error {
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := s.file.ReadAt(last, size-1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if last[0] != '\n' {
		if _, err := s.file.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

// renderRow encodes one CSV line. A fresh writer per row keeps write errors from sticking.
func renderRow(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Append writes one record and hands it to the OS before returning.
func (s *Store) Append(r model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &AppendError{Symbol: s.symbol, Err: ErrClosed}
	}

	line, err := renderRow(r.CSVRow())
	if err != nil {
		return &AppendError{Symbol: s.symbol, Err: err}
	}

	if s.torn {
		info, err := s.file.Stat()
		if err != nil {
			return &AppendError{Symbol: s.symbol, Err: err}
		}
		if err := s.terminateTail(info.Size()); err != nil {
			return &AppendError{Symbol: s.symbol, Err: err}
		}
		s.torn = false
	}

	// one write per row so a failure loses at most this record
	if _, err := s.file.Write(line); err != nil {
		s.torn = true
		return &AppendError{Symbol: s.symbol, Err: err}
	}

	if s.opts.Fsync {
		if err := s.file.Sync(); err != nil {
			return &AppendError{Symbol: s.symbol, Err: err}
		}
	}
	return nil
}

func (s *Store) Symbol() string { return s.symbol }

func (s *Store) Path() string { return s.path }

// Close syncs and closes the file. Further appends fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	syncErr := s.file.Sync()
	if err := s.file.Close(); err != nil {
		return err
	}
	return syncErr
}

// OpenAll opens a Store for every symbol in dir. On failure the stores opened so far are closed.
func OpenAll(dir string, symbols []string, opts Options) (map[string]*Store, error) {
	stores := make(map[string]*Store, len(symbols))
	for _, symbol := range symbols {
		s, err := Open(dir, symbol, opts)
		if err != nil {
			CloseAll(stores)
			return nil, err
		}
		stores[symbol] = s
	}
	return stores, nil
}

// CloseAll closes every store and returns the first error.
func CloseAll(stores map[string]*Store) error {
	var first error
	for _, s := range stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
