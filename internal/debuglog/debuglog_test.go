package debuglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "nested", "session.log")

	logger, err := New(logPath, 0)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
	if logger.maxSize != MaxLogSize {
		t.Errorf("Expected default max size %d, got %d", MaxLogSize, logger.maxSize)
	}
}

func TestDisabledLogger(t *testing.T) {
	logger, err := New("", 0)
	if err != nil {
		t.Fatalf("Failed to create disabled logger: %v", err)
	}
	defer logger.Close()

	if err := logger.LogConnect("s", "u", "gym-room"); err != nil {
		t.Errorf("Disabled logger should not error: %v", err)
	}

	var nilLogger *Logger
	if err := nilLogger.LogError("s", "token", errors.New("x")); err != nil {
		t.Errorf("Nil logger should not error: %v", err)
	}
}

func TestSessionEvents(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "session.log")

	logger, err := New(logPath, 0)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	id := NewSessionID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("Session ID %q is not a UUID: %v", id, err)
	}

	logger.LogConnect(id, "uid-1", "gym-room")
	logger.LogSpeaking(id, "assistant", true)
	logger.LogSpeaking(id, "assistant", false)
	logger.LogError(id, "token", errors.New("backend down"))
	logger.LogDisconnect(id, 12.5)
	logger.Close()

	entries := readLogEntries(t, logPath)
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(entries))
	}

	wantTypes := []EventType{EventConnect, EventSpeaking, EventSpeaking, EventError, EventDisconnect}
	for i, entry := range entries {
		if entry.Type != wantTypes[i] {
			t.Errorf("Entry %d: expected type %s, got %s", i, wantTypes[i], entry.Type)
		}
		if entry.SessionID != id {
			t.Errorf("Entry %d: expected session %s, got %s", i, id, entry.SessionID)
		}
		if entry.Seq != i+1 {
			t.Errorf("Entry %d: expected seq %d, got %d", i, i+1, entry.Seq)
		}
	}

	if entries[0].UserID != "uid-1" || entries[0].Room != "gym-room" {
		t.Errorf("Unexpected connect entry %+v", entries[0])
	}
	if entries[0].Speaking != nil {
		t.Errorf("Expected no speaking flag on connect, got %v", *entries[0].Speaking)
	}
	if entries[1].Speaking == nil || !*entries[1].Speaking || entries[1].Speaker != "assistant" {
		t.Errorf("Unexpected speaking start entry %+v", entries[1])
	}
	if entries[2].Speaking == nil || *entries[2].Speaking {
		t.Errorf("Expected speaking stop entry to carry false, got %+v", entries[2])
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if !strings.Contains(string(raw), `"speaking":false`) {
		t.Errorf("Expected a \"speaking\":false stop event in %s", raw)
	}
	if entries[3].Stage != "token" || entries[3].Error != "backend down" {
		t.Errorf("Unexpected error entry %+v", entries[3])
	}
	if entries[4].Duration != 12.5 {
		t.Errorf("Expected duration 12.5, got %v", entries[4].Duration)
	}
}

func TestRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "session.log")
	rotatedPath := logPath + RotatedSuffix
	const maxSize = 4096

	logger, err := New(logPath, maxSize)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	// Each entry is ~150 bytes
	for i := 0; i < 100; i++ {
		if err := logger.LogSpeaking("0b7e1c9a-5f0e-4a8e-9a39-1f6f3c2b4d11", "user", true); err != nil {
			t.Fatalf("Failed to log event %d: %v", i, err)
		}
	}

	if _, err := os.Stat(rotatedPath); os.IsNotExist(err) {
		t.Error("Rotated log file was not created")
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Failed to stat log file: %v", err)
	}
	if info.Size() >= maxSize {
		t.Errorf("Log file size %d exceeds max size %d after rotation", info.Size(), maxSize)
	}

	rotatedInfo, err := os.Stat(rotatedPath)
	if err != nil {
		t.Fatalf("Failed to stat rotated log: %v", err)
	}
	if rotatedInfo.Size() == 0 {
		t.Error("Rotated log file is empty")
	}
}

func TestHomeDirectoryExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New("~/.gymmando-session.log", 0)
	if err != nil {
		t.Fatalf("Failed to create logger with ~ path: %v", err)
	}
	defer logger.Close()

	expectedPath := filepath.Join(home, ".gymmando-session.log")
	if logger.path != expectedPath {
		t.Errorf("Expected path %s, got %s", expectedPath, logger.path)
	}
}

// Helper function to read log entries from file
func readLogEntries(t *testing.T, path string) []LogEntry {
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry: %v", err)
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("Scanner error: %v", err)
	}

	return entries
}
