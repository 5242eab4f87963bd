// Package logger provides leveled logging with a package-level default.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Level represents logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[Level]*color.Color{
	DEBUG: color.New(color.FgCyan),
	INFO:  color.New(color.FgGreen),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed),
}

// Logger provides leveled logging
type Logger struct {
	level     Level
	useColors bool
	out       *log.Logger
}

var defaultLogger *Logger

// Init initializes the default logger
func Init(level Level, useColors bool) {
	defaultLogger = New(level, os.Stdout, useColors)
}

// New creates a new Logger
func New(level Level, output io.Writer, useColors bool) *Logger {
	return &Logger{
		level:     level,
		useColors: useColors,
		out:       log.New(output, "", log.Ldate|log.Ltime),
	}
}

// SetLevel changes the logging level
func SetLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.level = level
	}
}

// ParseLevel parses level string to Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return ERROR, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	prefix := fmt.Sprintf("[%s] ", levelNames[level])
	if l.useColors {
		prefix = levelColors[level].Sprint(prefix)
	}
	l.out.Print(prefix + fmt.Sprintf(format, v...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) { l.log(DEBUG, format, v...) }

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) { l.log(INFO, format, v...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) { l.log(WARN, format, v...) }

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) { l.log(ERROR, format, v...) }

// Global functions using default logger

// Debug logs a debug message using the default logger
func Debug(format string, v ...interface{}) { defaultLogger.Debug(format, v...) }

// Info logs an info message using the default logger
func Info(format string, v ...interface{}) { defaultLogger.Info(format, v...) }

// Warn logs a warning message using the default logger
func Warn(format string, v ...interface{}) { defaultLogger.Warn(format, v...) }

// Error logs an error message using the default logger
func Error(format string, v ...interface{}) { defaultLogger.Error(format, v...) }
