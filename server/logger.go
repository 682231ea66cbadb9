package server

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects where and how verbosely the server logs.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// InitLogger builds a SugaredLogger writing to a rolling file, or to stderr
// when no file is configured.
func InitLogger(cfg LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.DebugLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	var ws zapcore.WriteSyncer
	if cfg.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)

	logger := zap.New(core, zap.AddCaller())
	return logger.Sugar(), nil
}

// SyncLogger flushes buffered entries.
func SyncLogger(log *zap.SugaredLogger) {
	if log != nil {
		_ = log.Sync()
	}
}
