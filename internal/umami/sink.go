package umami

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Sink receives events hour by hour. Implementations are not safe for
// concurrent use; the pipeline serializes emission.
type Sink interface {
	// WriteEvents appends a batch of events.
	WriteEvents(events []Event) error

	// Close flushes and releases the sink.
	Close() error
}

// CSVSink streams events to a headered CSV file in the Umami import layout.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink creates the output file (and any missing parent directories)
// and writes the header row.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	return &CSVSink{file: f, writer: w}, nil
}

// WriteEvents appends one record per event.
func (s *CSVSink) WriteEvents(events []Event) error {
	for _, ev := range events {
		if err := s.writer.Write(ev.Record()); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
