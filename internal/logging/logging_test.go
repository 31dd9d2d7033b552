package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Error("DefaultLogDir returned empty string")
	}

	// Should contain .amanrepo/logs
	if !strings.Contains(dir, ".amanrepo") || filepath.Base(dir) != "logs" {
		t.Errorf("DefaultLogDir should end with .amanrepo/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "server.log" {
		t.Errorf("DefaultLogPath should end with server.log, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
	if DebugConfig().Level != "debug" {
		t.Errorf("expected debug level, got: %s", DebugConfig().Level)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, cleanup, err := Setup(Config{
		Level:    "debug",
		FilePath: logPath,
		MaxFiles: 3,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Debug("merge_started", "group_id", "g1")
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"merge_started"`) ||
		!strings.Contains(string(content), `"group_id":"g1"`) {
		t.Errorf("expected JSON record with group_id, got: %s", content)
	}
}

func TestSetup_FileAndStderr(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	var stderr bytes.Buffer

	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: true,
		Stderr:        &stderr,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.With("component", "reaper").Warn("cleanup_failed")
	logger.Debug("dropped")
	cleanup()

	// A buffer is not a terminal, so stderr gets JSON too
	out := stderr.String()
	if !strings.Contains(out, `"component":"reaper"`) {
		t.Errorf("stderr should carry attrs added with With, got: %s", out)
	}
	if strings.Contains(out, "dropped") {
		t.Error("debug record should be filtered at info level")
	}

	content, _ := os.ReadFile(logPath)
	if !strings.Contains(string(content), "cleanup_failed") {
		t.Errorf("file should also receive the record, got: %s", content)
	}
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	// Must not panic
	logger.Info("nowhere")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"}, // defaults to info
	}

	for _, tc := range tests {
		level := LevelFromString(tc.input)
		if level.String() != tc.expected {
			t.Errorf("LevelFromString(%q) = %s, want %s", tc.input, level.String(), tc.expected)
		}
	}
}

func TestFindLogFile_NotFound(t *testing.T) {
	_, err := FindLogFile("/nonexistent/path/to/log.log")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(logPath, []byte("test"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	found, err := FindLogFile(logPath)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if found != logPath {
		t.Errorf("expected %s, got %s", logPath, found)
	}
}

// ============================================================================
// Viewer Tests
// ============================================================================

const sampleLog = `{"time":"2026-01-01T10:00:00Z","level":"INFO","msg":"merge_started","group_id":"g1"}
{"time":"2026-01-01T10:00:01Z","level":"DEBUG","msg":"member_resolved","group_id":"g1","repository_id":"r1"}
not json at all
{"time":"2026-01-01T10:00:02Z","level":"WARN","msg":"cleanup_failed","group_id":"g2"}
{"time":"2026-01-01T10:00:03Z","level":"INFO","msg":"merge_finished","group_id":"g1","elapsed_ms":12}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("failed to write sample: %v", err)
	}
	return path
}

func TestViewer_ParseLine(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)

	entry := v.parseLine(`{"time":"2026-01-01T10:00:00Z","level":"INFO","msg":"hello","group_id":"g1"}`)
	if !entry.IsValid {
		t.Fatal("expected valid entry")
	}
	if entry.Msg != "hello" || entry.Level != "INFO" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.Time.Equal(mustParseTime("2026-01-01T10:00:00Z")) {
		t.Errorf("unexpected time: %v", entry.Time)
	}
	if entry.Attr("group_id") != "g1" {
		t.Errorf("expected group_id attr, got %q", entry.Attr("group_id"))
	}
	if entry.Attr("missing") != "" {
		t.Error("missing attr should be empty")
	}

	invalid := v.parseLine("plain text")
	if invalid.IsValid || invalid.Raw != "plain text" {
		t.Errorf("expected raw invalid entry, got %+v", invalid)
	}
}

func TestViewer_Tail(t *testing.T) {
	path := writeSample(t)
	v := NewViewer(ViewerConfig{NoColor: true}, nil)

	entries, err := v.Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Msg != "cleanup_failed" || entries[1].Msg != "merge_finished" {
		t.Errorf("unexpected tail order: %q, %q", entries[0].Msg, entries[1].Msg)
	}
}

func TestViewer_Tail_Filters(t *testing.T) {
	path := writeSample(t)

	tests := []struct {
		name string
		cfg  ViewerConfig
		want []string
	}{
		{"level", ViewerConfig{Level: "warn"}, []string{"cleanup_failed"}},
		{"group", ViewerConfig{GroupID: "g1"}, []string{"merge_started", "member_resolved", "merge_finished"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`merge_`)}, []string{"merge_started", "merge_finished"}},
		{"group and level", ViewerConfig{GroupID: "g1", Level: "info"}, []string{"merge_started", "merge_finished"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := NewViewer(tc.cfg, nil).Tail(path, 100)
			if err != nil {
				t.Fatalf("Tail failed: %v", err)
			}
			var got []string
			for _, e := range entries {
				got = append(got, e.Msg)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestViewer_Tail_NonexistentFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, nil).Tail("/nonexistent/file.log", 10)
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	entry := v.parseLine(`{"time":"2026-01-01T10:00:03Z","level":"INFO","msg":"merge_finished","group_id":"g1","elapsed_ms":12}`)

	got := v.FormatEntry(entry)
	want := "10:00:03.000 INFO  merge_finished elapsed_ms=12 group_id=g1"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}

	raw := v.parseLine("oops")
	if v.FormatEntry(raw) != "oops" {
		t.Error("invalid entries should print raw")
	}
}

func TestViewer_FormatLevel_Color(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	if got := v.formatLevel("error"); !strings.Contains(got, "\033[31m") {
		t.Errorf("expected red for error, got %q", got)
	}
	if got := v.formatLevel("custom"); got != "CUSTO" {
		t.Errorf("unknown level should be truncated without color, got %q", got)
	}
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)

	entries, err := v.Tail(writeSample(t), 1)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	v.Print(entries)

	if !strings.Contains(buf.String(), "merge_finished") {
		t.Errorf("expected printed entry, got %q", buf.String())
	}
}

func TestViewer_Follow(t *testing.T) {
	path := writeSample(t)
	v := NewViewer(ViewerConfig{GroupID: "g3"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// Give Follow time to seek to the end before appending
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	_, _ = f.WriteString(`{"time":"2026-01-01T11:00:00Z","level":"INFO","msg":"other","group_id":"g4"}` + "\n")
	_, _ = f.WriteString(`{"time":"2026-01-01T11:00:01Z","level":"INFO","msg":"temporary_index_removed","group_id":"g3"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "temporary_index_removed" {
			t.Errorf("unexpected entry: %q", e.Msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for followed entry")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned error: %v", err)
	}
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
