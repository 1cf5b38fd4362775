package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type loggerHolder struct{ Logger }

var global atomic.Pointer[loggerHolder]

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	global.Store(&loggerHolder{logger})
}

// GetGlobalLogger returns the process-wide logger, an INFO console logger
// until InitGlobalLogger or SetGlobalLogger runs.
func GetGlobalLogger() Logger {
	if h := global.Load(); h != nil {
		return h.Logger
	}
	logger, _ := NewZapLogger(LogConfig{Level: InfoLevel})
	global.CompareAndSwap(nil, &loggerHolder{logger})
	return global.Load().Logger
}

// InitGlobalLogger initializes the global logger from the level name and
// file settings. An empty file path logs to stdout only.
func InitGlobalLogger(levelName string, file FileConfig) (Logger, error) {
	level := ParseLevel(levelName)

	var writers []io.Writer
	if file.Path != "" {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})
	}
	if file.Console || file.Path == "" {
		writers = append(writers, os.Stdout)
	}

	logger, err := NewZapLogger(LogConfig{
		Level:  level,
		Output: io.MultiWriter(writers...),
		JSON:   file.Path != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		String("level", level.String()),
		String("log_file", file.Path),
	)
	return logger, nil
}

// MustSync flushes buffered entries of the global logger. Call before exit.
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { GetGlobalLogger().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { GetGlobalLogger().Error(msg, err, fields...) }
