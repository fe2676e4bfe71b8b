package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events to a JSONL file, one event per line.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
	seq  uint64
}

// OpenFile opens (or creates) path for appending. Sequence numbers continue
// from the last event already in the file.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	existing, err := Load(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	s := &FileSink{f: f, path: path}
	if n := len(existing); n > 0 {
		s.seq = existing[n-1].Seq
	}
	return s, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Record(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.f.Write(data); err != nil {
		return err
	}
	return nil
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Load reads every event from a JSONL file.
func Load(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// bufio.Reader has no line length limit, unlike Scanner.
	reader := bufio.NewReader(f)
	var out []Event
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var e Event
			if jerr := json.Unmarshal(trimmed, &e); jerr != nil {
				return nil, fmt.Errorf("failed to parse JSONL line: %w", jerr)
			}
			out = append(out, e)
		}
		if err == io.EOF {
			break
		}
	}
	return out, nil
}
