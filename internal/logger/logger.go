package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

var (
	mu     sync.RWMutex
	logger *zerolog.Logger
)

// Get returns the shared logger, building one from ENV and LOG_LEVEL on first use.
func Get() *zerolog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = New(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"), os.Stderr)
	}
	return logger
}

// Configure replaces the shared logger with one built for env and level.
// It is called once the SDK configuration has been loaded.
func Configure(env, level string) {
	Set(New(env, level, os.Stderr))
}

// Set installs l as the shared logger. Tests use it to capture output.
func Set(l *zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// New builds a logger writing to out. Development environments get colored
// console output; everything else gets JSON with UNIX timestamps.
func New(env, level string, out io.Writer) *zerolog.Logger {
	logLevel := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			logLevel = parsed
		} else {
			fmt.Fprintf(os.Stderr, "Invalid log level %q; defaulting to 'info'\n", level)
		}
	}

	var zl zerolog.Logger
	switch env {
	case "", "dev", "development", "local":
		zl = zerolog.New(consoleWriter(out)).Level(logLevel).With().Timestamp().Logger()
	default:
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		zl = zerolog.New(out).Level(logLevel).With().Timestamp().Logger()
	}
	return &zl
}

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%s", i))
			}
			switch ll {
			case "trace":
				return colorize("TRC", colorMagenta)
			case "debug":
				return colorize("DBG", colorYellow)
			case "info":
				return colorize("INF", colorGreen)
			case "warn":
				return colorize("WRN", colorRed)
			case "error":
				return colorize("ERR", colorRed)
			case "fatal":
				return colorize("FTL", colorRed)
			case "panic":
				return colorize("PNC", colorRed)
			default:
				if len(ll) >= 3 {
					return colorize(strings.ToUpper(ll)[0:3], colorBold)
				}
				return colorize(strings.ToUpper(ll), colorBold)
			}
		},
	}
}
