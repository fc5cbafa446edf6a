package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	// IsEnabled controls whether debug messages are output
	IsEnabled bool
	// CurrentLevel is the minimum level of messages to output
	CurrentLevel LogLevel

	mu         sync.Mutex
	logger     *log.Logger
	levelNames = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"ERROR":   LevelError,
	}
)

func init() {
	logger = log.New(os.Stdout, "", 0)
	Reinitialize()
}

// Reinitialize updates the debug settings from DEBUG and LOG_LEVEL.
// Call it again after a .env file has been loaded into the environment.
func Reinitialize() {
	debugEnv := os.Getenv("DEBUG")
	IsEnabled = debugEnv == "true" || debugEnv == "1"

	CurrentLevel = ParseLevel(os.Getenv("LOG_LEVEL"))

	if IsEnabled {
		Info("Debug logging initialized - Enabled: %v, Level: %s", IsEnabled, levelNames[CurrentLevel])
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to LevelInfo.
func ParseLevel(name string) LogLevel {
	if level, exists := levelMap[strings.ToUpper(strings.TrimSpace(name))]; exists {
		return level
	}
	return LevelInfo
}

// String returns the level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// SetOutput redirects log output (useful for testing)
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func write(level LogLevel, prefix, format string, v ...interface{}) {
	if !IsEnabled || level < CurrentLevel {
		return
	}

	// Skip write and the level helper
	pc, file, line, _ := runtime.Caller(2)
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}

	message := prefix + fmt.Sprintf(format, v...)
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	mu.Lock()
	defer mu.Unlock()
	logger.Printf("[%s] [%s] [%s:%d] [%s] %s\n",
		levelNames[level],
		timestamp,
		file,
		line,
		funcName,
		message,
	)
}

// Log prints a message with the specified level if debugging is enabled
func Log(level LogLevel, format string, v ...interface{}) {
	write(level, "", format, v...)
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	write(LevelDebug, "", format, v...)
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	write(LevelInfo, "", format, v...)
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	write(LevelWarning, "", format, v...)
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	write(LevelError, "", format, v...)
}

// Logger prefixes every message, e.g. with a session id.
type Logger struct {
	prefix string
}

// WithPrefix returns a Logger that prepends "[prefix] " to each message.
func WithPrefix(prefix string) *Logger {
	return &Logger{prefix: "[" + prefix + "] "}
}

// Prefix returns the rendered prefix
func (l *Logger) Prefix() string {
	return l.prefix
}

func (l *Logger) Debug(format string, v ...interface{}) {
	write(LevelDebug, l.prefix, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	write(LevelInfo, l.prefix, format, v...)
}

func (l *Logger) Warning(format string, v ...interface{}) {
	write(LevelWarning, l.prefix, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	write(LevelError, l.prefix, format, v...)
}
