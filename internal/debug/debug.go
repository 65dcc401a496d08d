package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // Errors and warnings only
	LevelInfo    = 1 // Important info (session result, failures)
	LevelLive    = 2 // Live info (steps entered, bytes sent)
	LevelVerbose = 3 // Verbose (settings, backend commands)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

// slog levels used for the finer debug levels, below slog.LevelDebug.
const (
	slogLive    = slog.LevelInfo - 1
	slogVerbose = slog.LevelDebug
	slogTrace   = slog.LevelDebug - 4
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stderr
	logger *slog.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = errors and warnings only
// 1 = important info (session result)
// 2 = live info (steps, bytes sent)
// 3 = verbose (settings, backend commands)
// 4 = trace (GPIO, very low level)
//
// The resulting logger also becomes the slog default, so packages that log
// through slog directly share the same output and level.
func Init(debugLevel int) {
	mu.Lock()
	level = debugLevel
	mu.Unlock()
	rebuild()
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
	rebuild()
}

func rebuild() {
	mu.Lock()
	defer mu.Unlock()
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: slogLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(l))
				}
			}
			return a
		},
	})
	logger = slog.New(handler).With("app", "picast")
	slog.SetDefault(logger)
}

func slogLevel(l int) slog.Level {
	switch {
	case l <= LevelOff:
		return slog.LevelWarn
	case l == LevelInfo:
		return slog.LevelInfo
	case l == LevelLive:
		return slogLive
	case l == LevelVerbose:
		return slogVerbose
	default:
		return slogTrace
	}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	case l >= slogLive:
		return "LIVE"
	case l >= slogVerbose:
		return "VERBOSE"
	default:
		return "TRACE"
	}
}

func log(l slog.Level, msg string, args ...any) {
	mu.RLock()
	lg := logger
	mu.RUnlock()
	if lg == nil {
		return
	}
	lg.Log(context.Background(), l, msg, args...)
}

// Logger returns the current slog logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Value prints a named value.
func Value(name string, value any) {
	log(slog.LevelInfo, name, "value", value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...any) {
	log(slogLive, fmt.Sprintf(format, args...))
}

// Step prints a numbered session step (level 2).
func Step(num int, description string) {
	log(slogLive, description, "step", num)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	log(slogVerbose, fmt.Sprintf(format, args...))
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	log(slogVerbose, name, "value", fmt.Sprintf("%+v", v))
}

// Section prints a section separator (level 3).
func Section(name string) {
	log(slogVerbose, "━━━━ "+name+" ━━━━")
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...any) {
	log(slogTrace, fmt.Sprintf(format, args...))
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value any) {
	log(slogTrace, "gpio", "op", operation, "pin", pin, "value", value)
}

// --- General functions ---

// Error prints an error. Errors are shown at every level.
func Error(msg string, err error) {
	log(slog.LevelError, msg, "error", err)
}

// Warn prints a warning. Warnings are shown at every level.
func Warn(format string, args ...any) {
	log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func init() {
	rebuild()
}
