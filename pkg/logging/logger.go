package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level controls which entries reach the log sink.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured logging for EvoCode components.
// All component loggers of a process share one sink, by default a
// session-specific file in ~/.evocode/logs/. Configure redirects the
// sink for every logger at once.
type Logger struct {
	component string
	sink      *sink
}

// sink is the shared destination of every component logger.
type sink struct {
	mu      sync.Mutex
	file    *os.File
	logger  *log.Logger
	logPath string
	level   Level
	secrets []string
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	// logDir is the directory where default log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error

	shared     = &sink{level: LevelDebug}
	sharedOnce sync.Once
	sharedErr  error
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// initLogDirectory ensures the default log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir != "" {
			initErr = os.MkdirAll(logDir, 0750)
			return
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".evocode", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// openDefault opens the session log file on first use.
func openDefault() error {
	sharedOnce.Do(func() {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		if shared.logger != nil {
			return
		}
		if err := initLogDirectory(); err != nil {
			shared.useStderr(err)
			sharedErr = err
			return
		}
		path := filepath.Join(logDir, fmt.Sprintf("%s-evocode.log", getSessionID()))
		if err := shared.open(path); err != nil {
			shared.useStderr(err)
			sharedErr = err
		}
	})
	return sharedErr
}

// open must be called with s.mu held.
func (s *sink) open(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	// Append mode: several components and cycles write to the same file.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	s.logPath = path
	s.logger = log.New(file, "", 0) // timestamps are formatted by formatLogEntry
	return nil
}

// useStderr must be called with s.mu held.
func (s *sink) useStderr(err error) {
	s.file = nil
	s.logPath = ""
	s.logger = log.New(os.Stderr, "", 0)
	s.logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	s.logger.Printf("Falling back to stderr logging")
}

// Options configure the shared sink.
type Options struct {
	// File is the log file path. Empty keeps the session file in the default directory.
	File string
	// Level is the minimum level written.
	Level Level
	// Secrets are redacted from every entry.
	Secrets []string
}

// Configure applies opts to the shared sink used by every component logger.
// On failure to open File the sink falls back to stderr and the error is returned.
func Configure(opts Options) error {
	if err := openDefault(); err != nil && opts.File == "" {
		return err
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()

	shared.level = opts.Level
	shared.secrets = nil
	for _, s := range opts.Secrets {
		if s != "" {
			shared.secrets = append(shared.secrets, s)
		}
	}
	if opts.File == "" || opts.File == shared.logPath {
		return nil
	}
	if err := shared.open(opts.File); err != nil {
		shared.useStderr(err)
		return err
	}
	return nil
}

// NewLogger creates a new logger for a specific component.
// The logger writes to the shared sink, ~/.evocode/logs/<session-id>-evocode.log
// unless Configure chose another file.
//
// If the log file cannot be opened, the returned logger writes to stderr and
// the error is returned so callers can detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	err := openDefault()
	return &Logger{component: component, sink: shared}, err
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level Level, name, format string, v ...interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level || l.sink.logger == nil {
		return
	}
	message := redact(fmt.Sprintf(format, v...), l.sink.secrets)
	l.sink.logger.Println(l.formatLogEntry(name, message))
}

// Printf logs a formatted message
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write(LevelInfo, "INFO", format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, "INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, "WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, "ERROR", format, v...)
}

// Writer returns an io.Writer that writes to the log sink
func (l *Logger) Writer() io.Writer {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		return l.sink.file
	}
	return os.Stderr
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return getSessionID()
}

// LogPath returns the path to the log file, empty in stderr fallback mode
func (l *Logger) LogPath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.logPath
}

// Component returns the component name written in every entry
func (l *Logger) Component() string {
	return l.component
}

// Close closes the shared log file. Safe to call multiple times; later
// entries are dropped until Configure opens a new file.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	l.sink.logger = nil
	l.sink.logPath = ""
	return err
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where default logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
