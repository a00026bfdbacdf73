package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lattice-chat/lattice/wire"
)

// Level is the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// String returns the level's name as it appears in a log entry.
func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name (any case) back to its Level. ok is
// false for unrecognized names.
func ParseLevel(s string) (Level, bool) {
	name := strings.ToUpper(s)
	for i, n := range levelNames {
		if n == name {
			return Level(i), true
		}
	}
	return InfoLevel, false
}

// Field is one structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String builds a string-valued Field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int builds an integer-valued Field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Error builds a Field from an error. A nil err gives a Field with a nil
// Value, which a log entry renders as "error":null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration builds a Field from a time.Duration, formatted as text
// rather than nanoseconds so raw log output stays human-readable.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Logger is the structured logging surface every daemon entrypoint
// and long-running loop in this repo logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger is the only Logger implementation: JSON lines to an
// io.Writer, with an optional pretty-printed mode for local debugging.
type StructuredLogger struct {
	mu     sync.RWMutex
	level  Level
	out    io.Writer
	base   []Field
	pretty bool
}

// NewLogger builds a StructuredLogger writing to out at the given
// minimum level.
func NewLogger(out io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{level: level, out: out}
}

// NewDefaultLogger builds a StructuredLogger writing JSON lines to
// stdout, with its level taken from LATTICE_LOG_LEVEL (falling back to
// InfoLevel if unset or unrecognized).
func NewDefaultLogger() *StructuredLogger {
	level := InfoLevel
	if env := os.Getenv("LATTICE_LOG_LEVEL"); env != "" {
		if parsed, ok := ParseLevel(env); ok {
			level = parsed
		}
	}
	return NewLogger(os.Stdout, level)
}

// SetPrettyPrint toggles indented JSON output, useful when a human is
// watching a daemon's stdout directly rather than through a log shipper.
func (l *StructuredLogger) SetPrettyPrint(pretty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pretty = pretty
}

func (l *StructuredLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *StructuredLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *StructuredLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel then terminates the process.
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

// WithFields returns a derived logger that attaches fields to every
// entry it logs, in addition to this logger's own base fields.
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make([]Field, 0, len(l.base)+len(fields))
	merged = append(merged, l.base...)
	merged = append(merged, fields...)
	return &StructuredLogger{level: l.level, out: l.out, base: merged, pretty: l.pretty}
}

func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// shortCaller reports the logging call site as pkg-dir/file.go:line,
// trimmed so entries stay one readable line regardless of build path.
func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

func (l *StructuredLogger) log(level Level, msg string, fields []Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.base)+len(fields)+4)
	entry["timestamp"] = time.Now().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = msg
	if caller := shortCaller(3); caller != "" {
		entry["caller"] = caller
	}
	for _, f := range l.base {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	enc := json.NewEncoder(l.out)
	if l.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(entry); err != nil {
		fmt.Fprintf(l.out, `{"level":"ERROR","message":"failed to marshal log entry","error":"%v"}`+"\n", err)
	}
}

// LatticeError is a structured, loggable error carrying one of this
// repo's wire-exposed error codes (see Err* below) plus free-form
// detail fields that should never themselves cross the wire (a
// LatticeError is what gets logged; AsWireErr is what gets returned to
// a peer).
type LatticeError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *LatticeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *LatticeError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches one key/value pair of operator-facing context
// (never serialized over the wire, only logged).
func (e *LatticeError) WithDetails(key string, value interface{}) *LatticeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewLatticeError constructs a LatticeError from one of the Err* codes
// below.
func NewLatticeError(code, message string, cause error) *LatticeError {
	return &LatticeError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// AsWireErr maps a LatticeError's Code to the corresponding wire.Err*
// sentinel, for the codes that have a wire-exposed counterpart
// (wire/errors.go's AccessDenied/RetryLater/BadRequest/NotFound/
// UpdateRejected taxonomy). ok is false for the purely operational
// codes (internal, crypto, config, timeout) that must never reach an
// RPC caller directly — those get logged and downgraded to
// CodeRetryLater by rpc.ErrorToResponse instead.
func (e *LatticeError) AsWireErr() (err error, ok bool) {
	switch e.Code {
	case ErrCodeAccessDenied:
		return wire.ErrAccessDenied, true
	case ErrCodeBadRequest:
		return wire.ErrBadRequest, true
	case ErrCodeNotFound:
		return wire.ErrNotFound, true
	case ErrCodeRetryLater:
		return wire.ErrRetryLater, true
	case ErrCodeUpdateRejected:
		return wire.NewUpdateRejected(e.Message), true
	default:
		return nil, false
	}
}

// Error codes a LatticeError may carry. The first five mirror
// wire/errors.go's wire-exposed taxonomy one-for-one (see AsWireErr);
// the rest are operational-only and never cross an RPC boundary.
const (
	ErrCodeAccessDenied   = "ACCESS_DENIED"
	ErrCodeRetryLater     = "RETRY_LATER"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeUpdateRejected = "UPDATE_REJECTED"

	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeCrypto        = "CRYPTO_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeTimeout       = "TIMEOUT"
)

// defaultLogger is the process-wide Logger used by the package-level
// Debug/Info/Warn/ErrorMsg/Fatal helpers below.
var defaultLogger = NewDefaultLogger()

// SetDefaultLogger replaces the process-wide default logger.
func SetDefaultLogger(l Logger) {
	if sl, ok := l.(*StructuredLogger); ok {
		defaultLogger = sl
	}
}

// GetDefaultLogger returns the process-wide default logger.
func GetDefaultLogger() *StructuredLogger {
	return defaultLogger
}

func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

// ErrorMsg logs at ErrorLevel through the default logger. Named to
// avoid colliding with the Error(err error) Field constructor above.
func ErrorMsg(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}
