// Package logging builds the process logger from the logging config.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kevingruber/h5p-cache/internal/config"
)

// New returns a logger writing to stdout and, when cfg.File is set, to a
// rotating file. An unparsable level falls back to info. If the log file
// cannot be prepared the logger stays on stdout and reports why.
func New(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var stdout io.Writer = os.Stdout
	if cfg.Format == "console" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	file, fileErr := fileOutput(cfg)
	out := stdout
	if file != nil {
		out = zerolog.MultiLevelWriter(stdout, file)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", cfg.File).Msg("logging to stdout only")
	}
	return logger
}

// fileOutput returns the rotating file writer, or nil when no file is
// configured or its directory cannot be created.
func fileOutput(cfg config.LoggingConfig) (io.Writer, error) {
	if cfg.File == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}
