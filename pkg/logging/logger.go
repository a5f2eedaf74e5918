// Package logging is the structured, leveled logger shared by every stage of
// a run. Entries render as a single text line or as one JSON object.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders entries by severity
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a configured level name onto a LogLevel. Unknown names
// select INFO.
func ParseLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WARN
	}
	for l, n := range levelNames {
		if n == name {
			return LogLevel(l)
		}
	}
	return INFO
}

// LoggingConfig is the logging section of a configuration file. Output is
// "stderr" (default), "file" or "both".
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output,omitempty"`
	FilePath string `yaml:"file_path,omitempty"`
}

// LogEntry is one rendered log record
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// Field decorates an entry
type Field func(*LogEntry)

// String adds a string field
func String(key, value string) Field { return field(key, value) }

// Int adds an integer field
func Int(key string, value int) Field { return field(key, value) }

// Float adds a float field
func Float(key string, value float64) Field { return field(key, value) }

func field(key string, value any) Field {
	return func(e *LogEntry) {
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields[key] = value
	}
}

// Error records err on the entry
func Error(err error) Field {
	return func(e *LogEntry) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// Component names the pipeline stage emitting the entry
func Component(name string) Field {
	return func(e *LogEntry) { e.Component = name }
}

// RunID tags the entry with the run it belongs to
func RunID(id string) Field {
	return func(e *LogEntry) { e.RunID = id }
}

// Logger writes entries at or above its level
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	json  bool
	out   io.Writer
	file  *os.File
	now   func() time.Time
}

// NewLogger writes text entries at INFO to stderr, leaving stdout to the
// command output.
func NewLogger() *Logger {
	return &Logger{level: INFO, out: os.Stderr, now: time.Now}
}

// NewTestLogger writes text entries at DEBUG to w
func NewTestLogger(w io.Writer) *Logger {
	return &Logger{level: DEBUG, out: w, now: time.Now}
}

// SetLevel changes the minimum level written
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetFormat selects "json" or "text"
func (l *Logger) SetFormat(format string) {
	l.mu.Lock()
	l.json = strings.EqualFold(format, "json")
	l.mu.Unlock()
}

// SetOutput redirects entries to w
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// SetFileOutput appends entries to path, and to the current output too when
// tee is set.
func (l *Logger) SetFileOutput(path string, tee bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	if tee {
		l.out = io.MultiWriter(l.out, f)
	} else {
		l.out = f
	}
	return nil
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(WARN, msg, fields) }

// Error logs msg at ERROR with err attached
func (l *Logger) Error(msg string, err error, fields ...Field) {
	l.write(ERROR, msg, append(fields, Error(err)))
}

// WithFields returns a child logger that adds fields to every entry
func (l *Logger) WithFields(fields ...Field) *FieldLogger {
	return &FieldLogger{logger: l, fields: fields}
}

// callerDepth skips write and the public level method
const callerDepth = 2

func (l *Logger) write(level LogLevel, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := &LogEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   msg,
	}
	if _, file, line, ok := runtime.Caller(callerDepth); ok {
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	for _, f := range fields {
		f(entry)
	}

	if l.json {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.out, "failed to marshal log entry: %v\n", err)
			return
		}
		l.out.Write(append(data, '\n'))
		return
	}
	io.WriteString(l.out, entry.text())
}

// text renders "time LEVEL [component] message key=value ... (caller)" with
// fields in key order
func (e *LogEntry) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s ", e.Timestamp, e.Level)
	if e.Component != "" {
		fmt.Fprintf(&b, "[%s] ", e.Component)
	}
	b.WriteString(e.Message)
	if e.RunID != "" {
		fmt.Fprintf(&b, " run_id=%s", e.RunID)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := e.Fields[k].(type) {
		case string:
			fmt.Fprintf(&b, " %s=%q", k, v)
		default:
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}

	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	if e.Caller != "" {
		fmt.Fprintf(&b, " (%s)", e.Caller)
	}
	b.WriteByte('\n')
	return b.String()
}

// FieldLogger carries fields added by WithFields
type FieldLogger struct {
	logger *Logger
	fields []Field
}

// with copies so sibling children never share a backing array
func (fl *FieldLogger) with(fields []Field) []Field {
	all := make([]Field, 0, len(fl.fields)+len(fields))
	return append(append(all, fl.fields...), fields...)
}

func (fl *FieldLogger) Debug(msg string, fields ...Field) { fl.logger.write(DEBUG, msg, fl.with(fields)) }
func (fl *FieldLogger) Info(msg string, fields ...Field)  { fl.logger.write(INFO, msg, fl.with(fields)) }
func (fl *FieldLogger) Warn(msg string, fields ...Field)  { fl.logger.write(WARN, msg, fl.with(fields)) }

// Error logs msg at ERROR with err attached
func (fl *FieldLogger) Error(msg string, err error, fields ...Field) {
	fl.logger.write(ERROR, msg, append(fl.with(fields), Error(err)))
}

// WithFields returns a child carrying both field sets
func (fl *FieldLogger) WithFields(fields ...Field) *FieldLogger {
	return &FieldLogger{logger: fl.logger, fields: fl.with(fields)}
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// GetLogger returns the process-wide logger
func GetLogger() *Logger {
	defaultOnce.Do(func() { defaultLogger = NewLogger() })
	return defaultLogger
}

// InitLogger applies cfg to the process-wide logger
func InitLogger(cfg LoggingConfig) error {
	l := GetLogger()
	l.SetLevel(ParseLevel(cfg.Level))
	l.SetFormat(cfg.Format)

	switch strings.ToLower(cfg.Output) {
	case "file", "both":
		if cfg.FilePath == "" {
			return fmt.Errorf("logging.file_path is required for output %q", cfg.Output)
		}
		if err := l.SetFileOutput(cfg.FilePath, cfg.Output == "both"); err != nil {
			return err
		}
	case "", "stderr":
	default:
		return fmt.Errorf("unknown logging output %q", cfg.Output)
	}
	return nil
}
