package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once    sync.Once
	writer  io.Writer
	logPath string
	level   = zerolog.InfoLevel
)

// Init configures the shared log sinks. Safe to call more than once; only the
// first call wins.
func Init(dir, logLevel string) {
	once.Do(func() {
		logPath = filepath.Join(dir, "stashdav.log")
		fileWriter := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer = zerolog.MultiLevelWriter(console, fileWriter)

		if lvl, err := zerolog.ParseLevel(strings.ToLower(logLevel)); err == nil {
			level = lvl
		}
	})
}

func sink() io.Writer {
	if writer == nil {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return writer
}

// New returns a logger tagged with a component name.
func New(component string) zerolog.Logger {
	return zerolog.New(sink()).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Default returns the untagged root logger.
func Default() zerolog.Logger {
	return zerolog.New(sink()).Level(level).With().Timestamp().Logger()
}

// GetLogPath returns the path of the rotating log file, empty until Init.
func GetLogPath() string {
	return logPath
}
