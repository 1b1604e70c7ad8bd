// Package log configures the process-wide zap logger.
package log

import (
	"errors"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes how the logger should be wired up.
type Config struct {
	// STDOUT mirrors log output to standard out.
	STDOUT bool

	// File is a log file path; empty means no file output.
	File string

	// Level is a zapcore.Level value: debug -1 | info 0 | warn 1 | error 2.
	Level int8

	// MaxAge is the number of days rotated log files are kept.
	MaxAge int

	// MaxSize is the max size in megabytes of a log file before rotation.
	MaxSize int

	// MaxBackups is the max number of rotated files retained.
	MaxBackups int
}

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// Init builds the package-level Logger/Sugar from config. At least one of
// STDOUT or File must be set.
func Init(config Config) error {
	var wss []zapcore.WriteSyncer
	if len(config.File) > 0 {
		hook := lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			LocalTime:  false,
		}
		wss = append(wss, zapcore.AddSync(&hook))
	}

	if config.STDOUT {
		wss = append(wss, zapcore.AddSync(os.Stdout))
	}

	if len(wss) == 0 {
		return errors.New("log: at least one write syncer is required")
	}

	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	enc := zapcore.NewConsoleEncoder(cfg)

	switch zapcore.Level(config.Level) {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
	default:
		config.Level = int8(zapcore.InfoLevel)
	}

	Logger = zap.New(zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(wss...), zapcore.Level(config.Level)), zap.AddCaller())
	Sugar = Logger.Sugar()

	return nil
}

// InitFromEnv builds a sensible Config from NODE_ENV: anything other than
// "production" runs verbose to stdout; "production" logs at info level.
func InitFromEnv(nodeEnv string) error {
	cfg := Config{STDOUT: true}
	if nodeEnv == "production" {
		cfg.Level = int8(zapcore.InfoLevel)
	} else {
		cfg.Level = int8(zapcore.DebugLevel)
	}
	return Init(cfg)
}
