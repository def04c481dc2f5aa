package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogFileMaxBytes = 5 << 20
	// Older files beyond this count are removed when a new file is opened.
	maxRetainedLogFiles = 20
	logFilePrefix       = "subscriber-"
)

// DefaultLogDirPath is where EnableFilePersistence writes JSONL logs.
func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "sfdc-subscriber", "logs"), nil
}

type fileRecord struct {
	TS     string         `json:"ts"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// fileSink appends one JSON object per event and starts a new file once the
// current one would exceed maxBytes.
type fileSink struct {
	dir      string
	run      string
	maxBytes int64

	mu      sync.Mutex
	seq     int
	file    *os.File
	written int64
	closed  bool
}

func newFileSink(dir string, maxBytes int64) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	s := &fileSink{
		dir:      dir,
		run:      time.Now().UTC().Format("20060102-150405"),
		maxBytes: maxBytes,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openNextLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileSink) WriteEvent(event Event) error {
	line, err := json.Marshal(fileRecord{
		TS:     event.Time.UTC().Format(time.RFC3339Nano),
		Level:  strings.ToLower(event.Level.String()),
		Msg:    event.Message,
		Fields: event.Fields,
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	if s.file == nil || (s.written > 0 && s.written+int64(len(line)) > s.maxBytes) {
		if err := s.openNextLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.written += int64(n)
	return err
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileSink) openNextLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.seq++
	path := filepath.Join(s.dir, fmt.Sprintf("%s%s-%03d.jsonl", logFilePrefix, s.run, s.seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.written = info.Size()
	pruneLogFiles(s.dir, maxRetainedLogFiles)
	return nil
}

// pruneLogFiles keeps the newest keep files. Names embed a UTC timestamp and
// sequence number, so lexical order is age order.
func pruneLogFiles(dir string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.jsonl"))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-keep] {
		_ = os.Remove(path)
	}
}
