package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// levelFatal sits above slog.LevelError so handlers print it distinctly
const levelFatal = slog.Level(12)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return levelFatal
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel converts a string to a LogLevel
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "fatal", "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// OutputFormat determines how logs are formatted
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseOutputFormat converts a string to an OutputFormat
func ParseOutputFormat(format string) OutputFormat {
	switch format {
	case "json", "JSON":
		return FormatJSON
	default:
		return FormatText
	}
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Format OutputFormat
	Output io.Writer // Ignored when FilePath is set
	Debug  bool      // Convenience flag to set level to Debug

	// FilePath sends output to a file instead of Output. The file is
	// truncated once it grows past MaxSize bytes (0 = unbounded).
	FilePath string
	MaxSize  int64
}

// Logger is a leveled logger with component tagging, backed by log/slog
type Logger struct {
	slog *slog.Logger
	file *sizeCappedFile
	exit func(int)
}

// New creates a stdout text logger
func New(debug bool) *Logger {
	l, _ := NewWithConfig(Config{Debug: debug, Output: os.Stdout})
	return l
}

// NewWithConfig creates a logger with detailed configuration
func NewWithConfig(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var file *sizeCappedFile
	if cfg.FilePath != "" {
		f, err := openSizeCapped(cfg.FilePath, cfg.MaxSize)
		if err != nil {
			return nil, err
		}
		file = f
		out = f
	}

	level := cfg.Level
	if cfg.Debug {
		level = LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level.slog(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.Any() == levelFatal {
				a.Value = slog.StringValue("FATAL")
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		slog: slog.New(handler),
		file: file,
		exit: os.Exit,
	}, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, component, message string, fields map[string]interface{}) {
	ctx := context.Background()
	sl := level.slog()
	if !l.slog.Enabled(ctx, sl) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	// Sorted so text output is stable between runs
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	l.slog.LogAttrs(ctx, sl, message, attrs...)

	if level == LevelFatal {
		l.exit(1)
	}
}

// WithFields returns a logger that attaches fields to every entry
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{slog: l.slog.With(args...), file: l.file, exit: l.exit}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) InfoWithFields(message string, fields map[string]interface{}) {
	l.log(LevelInfo, "", message, fields)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) ErrorWithFields(message string, fields map[string]interface{}) {
	l.log(LevelError, "", message, fields)
}

// Debug logs a debug message (only if debug level is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) DebugWithFields(message string, fields map[string]interface{}) {
	l.log(LevelDebug, "", message, fields)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) WarnWithFields(message string, fields map[string]interface{}) {
	l.log(LevelWarn, "", message, fields)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, "", fmt.Sprintf(format, args...), nil)
}

// With returns a contextual logger with a component name
func (l *Logger) With(component string) *ContextLogger {
	return &ContextLogger{
		logger:    l,
		component: component,
	}
}

// ContextLogger wraps Logger with a component name for contextual logging
type ContextLogger struct {
	logger    *Logger
	component string
	fields    map[string]interface{}
}

// WithFields returns a new context logger with additional fields
func (c *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:    c.logger,
		component: c.component,
		fields:    c.mergeFields(fields),
	}
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.logger.log(LevelInfo, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) InfoWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelInfo, c.component, message, c.mergeFields(fields))
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.logger.log(LevelError, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) ErrorWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelError, c.component, message, c.mergeFields(fields))
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.logger.log(LevelDebug, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) DebugWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelDebug, c.component, message, c.mergeFields(fields))
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.logger.log(LevelWarn, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) WarnWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelWarn, c.component, message, c.mergeFields(fields))
}

func (c *ContextLogger) Fatal(format string, args ...interface{}) {
	c.logger.log(LevelFatal, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) mergeFields(fields map[string]interface{}) map[string]interface{} {
	allFields := make(map[string]interface{}, len(c.fields)+len(fields))
	for k, v := range c.fields {
		allFields[k] = v
	}
	for k, v := range fields {
		allFields[k] = v
	}
	return allFields
}

// sizeCappedFile truncates itself once it reaches maxSize
type sizeCappedFile struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
}

func openSizeCapped(path string, maxSize int64) (*sizeCappedFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &sizeCappedFile{path: path, file: file, size: info.Size(), maxSize: maxSize}, nil
}

func (f *sizeCappedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxSize > 0 && f.size+int64(len(p)) > f.maxSize {
		if err := f.file.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		f.size = 0
	}

	n, err := f.file.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *sizeCappedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
