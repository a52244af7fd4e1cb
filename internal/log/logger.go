// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
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

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

// currentLevel holds the current global log level atomically.
var currentLevel atomic.Uint32

// logger writes to stderr so log lines never interleave with text records on
// stdout. Date, time with microseconds.
var logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects log output, e.g. to io.Discard while the terminal
// dashboard owns the screen.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// output writes one line with the level tag padded to a fixed width.
func output(level LogLevel, format string, v ...any) {
	logger.Printf("%-7s %s", "["+level.String()+"]", fmt.Sprintf(format, v...))
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) {
	if shouldLog(LevelDebug) {
		output(LevelDebug, format, v...)
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) {
	if shouldLog(LevelInfo) {
		output(LevelInfo, format, v...)
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) {
	if shouldLog(LevelWarn) {
		output(LevelWarn, format, v...)
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) {
	if shouldLog(LevelError) {
		output(LevelError, format, v...)
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	output(LevelFatal, format, v...)
	os.Exit(1)
}

// Sampler rate-limits one recurring message, such as a per-frame delivery
// failure, so it cannot flood the log at the capture rate. Messages refused
// by the limiter are counted and reported with the next one let through.
type Sampler struct {
	level      LogLevel
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewSampler allows burst messages at once and one per every interval after.
func NewSampler(level LogLevel, every time.Duration, burst int) *Sampler {
	return &Sampler{level: level, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Logf logs the message if the limiter allows it.
func (s *Sampler) Logf(format string, v ...any) {
	if !shouldLog(s.level) {
		return
	}
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	msg := fmt.Sprintf(format, v...)
	if n := s.suppressed.Swap(0); n > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, n)
	}
	output(s.level, "%s", msg)
}

// Suppressed returns the messages dropped since the last one logged.
func (s *Sampler) Suppressed() uint64 {
	return s.suppressed.Load()
}
