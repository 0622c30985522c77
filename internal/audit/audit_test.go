package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleetsync/inventory/internal/config"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(EventTaskReceived, 1, map[string]any{"name": "x"})
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
}

func TestNewLoggerDisabledReturnsNil(t *testing.T) {
	cfg := config.Default()
	cfg.AuditEnabled = false
	cfg.DataDir = t.TempDir()
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l != nil {
		t.Fatal("expected nil logger when audit is disabled")
	}
}

func TestNewLoggerUsesDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()
	if want := filepath.Join(cfg.DataDir, "audit.jsonl"); l.filePath != want {
		t.Fatalf("filePath = %q, want %q", l.filePath, want)
	}
	if got := l.DroppedCount(); got != 0 {
		t.Fatalf("DroppedCount() = %d, want 0", got)
	}
}

func TestLogWritesJSONLEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventTaskReceived, 42, map[string]any{"name": "delete-user-profile"})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].EventType != EventTaskReceived {
		t.Fatalf("eventType = %q, want %q", entries[0].EventType, EventTaskReceived)
	}
	if entries[0].TaskID != 42 {
		t.Fatalf("taskId = %d, want 42", entries[0].TaskID)
	}
	if entries[0].PrevHash != genesisHash {
		t.Fatalf("prevHash = %q, want genesis", entries[0].PrevHash)
	}
}

func TestHashChainLinkingAndVerify(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventAgentStart, 0, nil)
	l.Log(EventTaskReceived, 7, map[string]any{"name": "delete-user-profile"})
	l.Log(EventTaskExecuted, 7, map[string]any{"status": "Successful"})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Fatalf("entry[%d] does not link to entry[%d]", i, i-1)
		}
	}

	n, err := Verify(l.filePath)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n != 3 {
		t.Fatalf("Verify checked %d entries, want 3", n)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventTaskReceived, 1, map[string]any{"name": "delete-user-profile"})
	l.Log(EventTaskExecuted, 1, map[string]any{"status": "Failed"})
	l.Close()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"Failed"`, `"Successful"`, 1)
	if err := os.WriteFile(l.filePath, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(l.filePath); err == nil {
		t.Fatal("expected Verify to detect the modified entry")
	}
}

func TestReopenContinuesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := open(path, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	l.Log(EventAgentStart, 0, nil)
	l.Close()

	l2, err := open(path, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	l2.Log(EventAgentStop, 0, nil)
	l2.Close()

	if _, err := Verify(path); err != nil {
		t.Fatalf("chain broken across reopen: %v", err)
	}
}

func TestRotationSentinelCrossFileHashChain(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 200

	for i := 0; i < 10; i++ {
		l.Log(EventTaskReceived, int64(i+1), map[string]any{"i": i})
	}
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) == 0 {
		t.Fatal("no entries in current file after rotation")
	}
	if entries[0].EventType != EventLogRotated {
		t.Fatalf("first entry eventType = %q, want %q", entries[0].EventType, EventLogRotated)
	}
	if prevFile, _ := entries[0].Details["previousFile"].(string); prevFile == "" {
		t.Fatal("sentinel has no previousFile in details")
	}

	backup := readEntries(t, l.filePath+".1")
	if len(backup) == 0 {
		t.Fatal("no entries in backup file")
	}
	if entries[0].PrevHash != backup[len(backup)-1].EntryHash {
		t.Fatal("sentinel does not link to the last entry of the rotated file")
	}
	if len(entries) > 1 && entries[1].PrevHash != entries[0].EntryHash {
		t.Fatal("entry after sentinel does not link to the sentinel")
	}
}

func TestCriticalEventsSet(t *testing.T) {
	for _, e := range []string{EventProfileDeleted, EventAgentStart, EventAgentStop, EventConfigChange} {
		if !criticalEvents[e] {
			t.Errorf("event %q should be critical", e)
		}
	}
	for _, e := range []string{EventTaskReceived, EventTaskExecuted, EventTaskRejected} {
		if criticalEvents[e] {
			t.Errorf("event %q should not be critical", e)
		}
	}
}

func TestDroppedCountIncrementsOnWriteFailure(t *testing.T) {
	l := newTestLogger(t)

	l.file.Close()
	f, err := os.Open(l.filePath)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	l.file = f

	l.Log(EventTaskReceived, 1, nil)

	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
	l.Close()
}

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := open(filepath.Join(t.TempDir(), "audit.jsonl"), 50, 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func readEntries(t *testing.T, filePath string) []Entry {
	t.Helper()
	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}
