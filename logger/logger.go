/*
Package logger wraps zerolog so every component of the SDK logs the same way. A root
Logger is built once from a Config and components derive child loggers from it with
GetComponentLogger / GetConnectionLogger, which stamp the component name or socket id on
every line they write.
*/
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogLevel = zerolog.DebugLevel

	// lumberjack rotation settings
	maxLogFileSizeMB = 50
	maxLogBackups    = 5
	maxLogAgeDays    = 28
)

type Config struct {
	// When set, logs are written as JSON to this file and rotated by lumberjack
	FilePath string

	// Every writer here receives human readable console output
	ConsoleWriters []io.Writer

	// One of "trace", "debug", "info", "warn", "error", "disabled". Defaults to debug
	LogLevel string
}

type Logger struct {
	logger zerolog.Logger
}

func New(config *Config) (*Logger, error) {
	if config == nil {
		return nil, fmt.Errorf("logger config cannot be nil")
	}

	var writers []io.Writer
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.FilePath, err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogFileSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		})
	}

	for _, w := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := defaultLogLevel
	if config.LogLevel != "" {
		var err error
		if level, err = ToLogLevel(config.LogLevel); err != nil {
			return nil, err
		}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: zl}, nil
}

func ToLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unrecognized log level: %q", level)
	}
}

// With returns a child logger that adds key=value to every line
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) GetComponentLogger(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

func (l *Logger) GetConnectionLogger(socketId int64) *Logger {
	return &Logger{
		logger: l.logger.With().Int64("socketId", socketId).Logger(),
	}
}

func (l *Logger) GetEnvelopeLogger(envelopeId string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("envelopeId", envelopeId).Logger(),
	}
}

func (l *Logger) AddSdkVersion(version string) {
	l.logger = l.logger.With().Str("sdkVersion", version).Logger()
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...any) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...any) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...any) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, a ...any) {
	l.logger.Warn().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Err(err).Send()
}

func (l *Logger) Errorf(format string, a ...any) {
	l.logger.Error().Msgf(format, a...)
}
