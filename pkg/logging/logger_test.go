package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the default log directory at a temp dir and resets global state
func setupTestDir(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origShared := shared

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}
	shared = &sink{level: LevelDebug}
	sharedOnce = sync.Once{}
	sharedErr = nil

	t.Cleanup(func() {
		if shared.file != nil {
			_ = shared.file.Close()
		}
		logDir = origLogDir
		shared = origShared
		initErr = nil
		initOnce = sync.Once{}
		sharedOnce = sync.Once{}
		sharedErr = nil
		sessionIDOnce = sync.Once{}
	})
	return tempDir
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.Component())
	}
	if logger.SessionID() == "" {
		t.Error("Expected non-empty session ID")
	}
	if logger.LogPath() == "" {
		t.Fatal("Expected non-empty log path")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	logContent := readLog(t, logger.LogPath())

	expectedPatterns := []string{
		"[test] [INFO] Test message 123",
		"[test] [DEBUG] Debug message",
		"[test] [INFO] Info message",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	}
	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestMultipleComponentsShareSink(t *testing.T) {
	setupTestDir(t)

	logger1, err := NewLogger("component1")
	if err != nil {
		t.Fatalf("Failed to create logger1: %v", err)
	}
	logger2, err := NewLogger("component2")
	if err != nil {
		t.Fatalf("Failed to create logger2: %v", err)
	}
	defer logger1.Close()

	if logger1.LogPath() != logger2.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", logger1.LogPath(), logger2.LogPath())
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")

	logContent := readLog(t, logger1.LogPath())
	if !strings.Contains(logContent, "[component1]") {
		t.Error("Log missing component1 entries")
	}
	if !strings.Contains(logContent, "[component2]") {
		t.Error("Log missing component2 entries")
	}
}

func TestConfigureRedirectsAndFilters(t *testing.T) {
	dir := setupTestDir(t)

	logger, err := NewLogger("pipeline")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	target := filepath.Join(dir, "nested", "app.log")
	if err := Configure(Options{File: target, Level: LevelInfo, Secrets: []string{"sk-supersecretvalue"}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if logger.LogPath() != target {
		t.Fatalf("Expected log path %q, got %q", target, logger.LogPath())
	}

	logger.Debugf("hidden debug line")
	logger.Infof("using key sk-supersecretvalue")

	logContent := readLog(t, target)
	if strings.Contains(logContent, "hidden debug line") {
		t.Error("Debug entry should be filtered at info level")
	}
	if strings.Contains(logContent, "sk-supersecretvalue") {
		t.Error("Secret should be redacted")
	}
	if !strings.Contains(logContent, "[REDACTED]alue") {
		t.Errorf("Expected redacted key in log, got:\n%s", logContent)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := Redact(""); got != "" {
		t.Errorf("Redact(\"\") = %q", got)
	}
	if got := Redact("short"); got != "[REDACTED]" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("AIzaSyExample1234"); got != "[REDACTED]1234" {
		t.Errorf("Redact(long) = %q", got)
	}
}

func TestGetSessionID(t *testing.T) {
	setupTestDir(t)

	id1 := GetSessionID()
	id2 := GetSessionID()
	if id1 != id2 {
		t.Errorf("Expected consistent session ID, got %q and %q", id1, id2)
	}
	if id1 == "" {
		t.Error("Expected non-empty session ID")
	}
}

func TestLoggerClose(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	// Writing after close is a no-op rather than a panic.
	logger.Infof("after close")
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-evocode.log") {
		t.Errorf("Expected log file to end with '-evocode.log', got %q", fileName)
	}
	sessionPart := strings.TrimSuffix(fileName, "-evocode.log")
	if !strings.Contains(sessionPart, "-") {
		t.Errorf("Expected session ID part to contain dashes (UUID format), got %q", sessionPart)
	}
}
