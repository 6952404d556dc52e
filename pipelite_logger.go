package pipelite

import (
	"github.com/davidroman0O/pipelite/internal/logs"
)

// Level represents the severity of a log message
type Level = logs.Level

const (
	LevelDebug = logs.LevelDebug
	LevelInfo  = logs.LevelInfo
	LevelWarn  = logs.LevelWarn
	LevelError = logs.LevelError
)

type LogFormat = logs.LogFormat

const (
	TextFormat = logs.TextFormat
	JSONFormat = logs.JSONFormat
)

// Logger is the interface that wraps the basic logging methods.
type Logger = logs.Logger

func NewDefaultLogger(level Level, format LogFormat) Logger {
	return logs.NewDefaultLogger(level, format)
}

func NewNopLogger() Logger {
	return logs.NewNopLogger()
}
