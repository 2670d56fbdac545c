package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Options configures the process logger.
type Options struct {
	Level  string    // debug, info, warn, error; anything else is info
	Format string    // json (default) or text
	Writer io.Writer // defaults to stdout
}

// Setup installs a JSON logger on stdout at level.
func Setup(level string) {
	Configure(Options{Level: level})
}

// Configure installs the process logger and makes it the slog default. Only
// the first call takes effect.
func Configure(opts Options) {
	once.Do(func() {
		logger = slog.New(newHandler(opts))
		slog.SetDefault(logger)
	})
}

func newHandler(opts Options) slog.Handler {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "text") {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the process logger, installing the default one if needed.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent tags records with the subsystem that wrote them.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithBridge tags records with the bridge they concern.
func WithBridge(name string) *slog.Logger {
	return Get().With(slog.String("bridge", name))
}
