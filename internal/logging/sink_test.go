package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Skipf("no user cache dir: %v", err)
	}
	if want := filepath.Join("sfdc-subscriber", "logs"); !strings.HasSuffix(path, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", path, want)
	}
}

func TestFileSink_WritesJSONLAndRotates(t *testing.T) {
	dir := t.TempDir()
	sink, err := newFileSink(dir, 180)
	if err != nil {
		t.Fatalf("newFileSink() error = %v", err)
	}

	event := Event{
		Time:    time.Unix(1700000000, 123456789),
		Level:   slog.LevelDebug,
		Message: "poll cycle finished",
		Fields:  map[string]any{"events": 7, "channel": "/event/Order_Event__e"},
	}
	for range 6 {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.WriteEvent(event); err == nil {
		t.Fatalf("WriteEvent() after Close should fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(entries))
	}

	lines := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), logFilePrefix) || !strings.HasSuffix(entry.Name(), ".jsonl") {
			t.Fatalf("unexpected log filename %q", entry.Name())
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("ReadFile(%q) error = %v", entry.Name(), err)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			var record fileRecord
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				t.Fatalf("invalid json line %q: %v", line, err)
			}
			if record.Level != "debug" || record.Msg != "poll cycle finished" || record.Fields["channel"] != "/event/Order_Event__e" {
				t.Fatalf("record = %#v", record)
			}
			lines++
		}
	}
	if lines != 6 {
		t.Fatalf("lines = %d, want 6", lines)
	}
}

func TestPruneLogFiles_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"subscriber-20260101-000000-001.jsonl",
		"subscriber-20260101-000000-002.jsonl",
		"subscriber-20260102-000000-001.jsonl",
		"unrelated.txt",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	pruneLogFiles(dir, 2)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var got []string
	for _, entry := range entries {
		got = append(got, entry.Name())
	}
	want := "subscriber-20260101-000000-002.jsonl,subscriber-20260102-000000-001.jsonl,unrelated.txt"
	if strings.Join(got, ",") != want {
		t.Fatalf("remaining = %v", got)
	}
}

func TestLoggerCloseStopsFilePersistence(t *testing.T) {
	dir := t.TempDir()
	logger := New(true)
	logger.SetTerminalOutputEnabled(false)

	sink, err := newFileSink(dir, 1024)
	if err != nil {
		t.Fatalf("newFileSink() error = %v", err)
	}
	logger.core.fileSink = sink

	logger.Info("before close")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("after close")

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("ReadDir() = %d entries, error %v", len(entries), err)
	}
	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "before close") {
		t.Fatalf("expected pre-close event in log content")
	}
	if strings.Contains(text, "after close") {
		t.Fatalf("did not expect post-close event in log content")
	}
}
