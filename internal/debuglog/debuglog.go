package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxLogSize is the size at which the log is rotated
	MaxLogSize = 8 * 1024 * 1024

	// RotatedSuffix is appended to the rotated log file
	RotatedSuffix = ".1"
)

// EventType represents the type of log entry
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventSpeaking   EventType = "speaking"
	EventError      EventType = "error"
)

// LogEntry represents a single log entry in JSON format
type LogEntry struct {
	Timestamp string    `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Room      string    `json:"room,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
	Speaking  *bool     `json:"speaking,omitempty"` // set on speaking events only
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Seq       int       `json:"seq"`
}

// Logger writes session events as JSON lines, with rotation
type Logger struct {
	file     *os.File
	mu       sync.Mutex
	path     string
	maxSize  int64
	seq      int
	disabled bool
}

// New creates a new session event logger.
// If path is empty string, logging is disabled. maxSize <= 0 uses MaxLogSize.
func New(path string, maxSize int64) (*Logger, error) {
	if path == "" {
		return &Logger{disabled: true}, nil
	}
	if maxSize <= 0 {
		maxSize = MaxLogSize
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := &Logger{
		file:    file,
		path:    path,
		maxSize: maxSize,
	}

	if err := logger.checkRotation(); err != nil {
		file.Close()
		return nil, err
	}

	return logger, nil
}

// NewSessionID returns a fresh identifier for a session's events
func NewSessionID() string {
	return uuid.NewString()
}

// LogConnect logs a session reaching the connected state
func (l *Logger) LogConnect(sessionID, userID, room string) error {
	return l.log(LogEntry{
		Type:      EventConnect,
		SessionID: sessionID,
		UserID:    userID,
		Room:      room,
	})
}

// LogDisconnect logs the end of a session
func (l *Logger) LogDisconnect(sessionID string, durationSeconds float64) error {
	return l.log(LogEntry{
		Type:      EventDisconnect,
		SessionID: sessionID,
		Duration:  durationSeconds,
	})
}

// LogSpeaking logs a speaker ("user" or "assistant") starting or stopping
func (l *Logger) LogSpeaking(sessionID, speaker string, speaking bool) error {
	return l.log(LogEntry{
		Type:      EventSpeaking,
		SessionID: sessionID,
		Speaker:   speaker,
		Speaking:  &speaking,
	})
}

// LogError logs a failure at the given stage (identity, token, connect, ...)
func (l *Logger) LogError(sessionID, stage string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return l.log(LogEntry{
		Type:      EventError,
		SessionID: sessionID,
		Stage:     stage,
		Error:     msg,
	})
}

func (l *Logger) log(entry LogEntry) error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry.Seq = l.seq
	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	return l.writeEntry(entry)
}

// writeEntry writes a log entry and syncs to disk
func (l *Logger) writeEntry(entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	return l.checkRotation()
}

// checkRotation rotates the log once it reaches maxSize
func (l *Logger) checkRotation() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	// Only one rotated file is kept
	rotatedPath := l.path + RotatedSuffix
	os.Remove(rotatedPath)
	if err := os.Rename(l.path, rotatedPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.file = file
	return nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
