package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	// Global writer for console output
	writer io.Writer = os.Stdout

	// Mutex for thread-safe console output
	mu sync.Mutex

	// Track if we're in a progress display mode
	inProgress bool

	// ANSI color codes
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"

	// ANSI cursor control
	clearLine = "\r\033[K"

	// Check if colors are supported
	colorsSupported = isTerminal()
)

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetWriter sets the output writer and disables colors unless w is stdout.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	writer = w
	colorsSupported = w == io.Writer(os.Stdout) && isTerminal()
}

func color(text, colorCode string) string {
	if !colorsSupported {
		return text
	}
	return colorCode + text + colorReset
}

// Print outputs a message to the console
func Print(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if inProgress {
		fmt.Fprint(writer, clearLine)
	}

	fmt.Fprintln(writer, fmt.Sprintf(format, args...))
	inProgress = false
}

// Info outputs an info message
func Info(format string, args ...interface{}) {
	Print("["+color("INFO", colorBlue)+"] "+format, args...)
}

// Success outputs a success message in green
func Success(format string, args ...interface{}) {
	Print("["+color("OK", colorGreen)+"] "+format, args...)
}

// Warning outputs a warning message in yellow
func Warning(format string, args ...interface{}) {
	Print("["+color("WARN", colorYellow)+"] "+format, args...)
}

// Error outputs an error message in red
func Error(format string, args ...interface{}) {
	Print("["+color("ERROR", colorRed)+"] "+format, args...)
}

// Status outputs a status message in cyan
func Status(format string, args ...interface{}) {
	Print("["+color("*", colorCyan)+"] "+format, args...)
}

// Progress overwrites the current line on a terminal, otherwise prints a line.
func Progress(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if colorsSupported {
		fmt.Fprint(writer, clearLine+msg)
		inProgress = true
		return
	}
	fmt.Fprintln(writer, msg)
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatDuration formats a duration as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "calculating..."
	}

	seconds := int(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatRate formats an evaluation count over an elapsed time as "N.NN evals/s".
func FormatRate(count int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.00 evals/s"
	}
	return fmt.Sprintf("%.2f evals/s", float64(count)/elapsed.Seconds())
}
