// Package logging provides the process-wide structured logger: zerolog with
// an optional rotating file sink, plus component-scoped child loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Level is a logging verbosity tag, matching zerolog's named levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the global logger's level, output shape, and rotation.
type Config struct {
	Level      Level
	JSONOutput bool
	// LogFile, if set, rotates through lumberjack instead of writing to
	// stdout: 100 MiB per file, 5 backups kept.
	LogFile string
}

// Logger is the process-wide root logger. Init must run before any
// component logger is derived from it.
var Logger zerolog.Logger

// Init configures the global logger per cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		output = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			Compress:   false,
		}
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}

	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%v:", i))
		},
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with component, used by each
// package (scheduler, httpapi, sandbox, ...) to scope its own log lines.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkerID returns a child logger tagged with a worker's numeric ID.
func WithWorkerID(id int) zerolog.Logger {
	return Logger.With().Int("worker_id", id).Logger()
}

// WithTaskID returns a child logger tagged with a task's ID.
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

func init() {
	// A sane default so packages that log before main calls Init (tests,
	// early CLI errors) still produce readable output.
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
