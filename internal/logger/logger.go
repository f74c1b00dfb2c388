package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *log.Logger
	debug  bool

	logFile *os.File
)

// InitLogging opens logPath for appending. Info, warning and error lines are
// written once logging is initialised; debug lines only when debugMode is set.
func InitLogging(debugMode bool, logPath string) error {
	if logPath == "" {
		SetOutput(debugMode, io.Discard)
		return nil
	}

	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	SetOutput(debugMode, f)

	mu.Lock()
	logFile = f
	mu.Unlock()

	return nil
}

// SetOutput routes log lines to w.
func SetOutput(debugMode bool, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	debug = debugMode
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	logger = nil
}

func output(level, format string, v ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	if l == nil {
		return
	}
	l.Printf("["+level+"] "+format, v...)
}

func Infof(format string, v ...any) {
	output("INFO", format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...any) {
	output("ERROR", format, v...)
}

func Debugf(format string, v ...any) {
	mu.RLock()
	enabled := debug
	mu.RUnlock()

	if enabled {
		output("DEBUG", format, v...)
	}
}

func Warnf(format string, v ...any) {
	output("WARNING", format, v...)
}
