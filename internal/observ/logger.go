package observ

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Env   string
	Level string

	// File enables a rotated log file next to stdout when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a structured logger based on environment
func NewLogger(opts Options) (*zap.Logger, error) {
	var config zap.Config

	if opts.Env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapLevel, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	if opts.File == "" {
		return config.Build()
	}

	// The rotated file always gets JSON so it can be shipped as-is.
	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	var consoleEncoder zapcore.Encoder
	if opts.Env == "production" {
		consoleEncoder = zapcore.NewJSONEncoder(config.EncoderConfig)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(config.EncoderConfig)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), config.Level),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(newRotator(opts)), config.Level),
	)

	return zap.New(core, zap.AddCaller()), nil
}

func newRotator(opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

// Queue tags a log line with the queue it concerns.
func Queue(url string) zap.Field {
	return zap.String("queue_url", url)
}

// Message tags a log line with the provider message id.
func Message(id string) zap.Field {
	return zap.String("message_id", id)
}

// RequestID tags a log line with the dispatch correlation id.
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}
