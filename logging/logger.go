package logging

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/go-extralite/extralite/utils"
)

// Output values recognized by Config.Output / AssertOutput.
const (
	CONSOLE = "console"
	JOURNAL = "journald"
)

// Logger wraps a *zap.SugaredLogger with the periodic-logging interval
// components use to throttle repetitive log lines (e.g. per-row progress).
type Logger struct {
	*zap.SugaredLogger

	interval time.Duration
}

// NewLogger creates a Logger from a preconfigured *zap.SugaredLogger.
func NewLogger(log *zap.SugaredLogger, interval time.Duration) *Logger {
	return &Logger{SugaredLogger: log, interval: interval}
}

// Interval returns the periodic-logging interval this Logger was created with.
func (l *Logger) Interval() time.Duration {
	return l.interval
}

// Logging is a factory for named component Loggers sharing one Config.
type Logging struct {
	logger   *zap.Logger
	interval time.Duration
	options  Options
}

// NewLoggingFromConfig builds a Logging that writes to c.Output at c.Level,
// with identifier used as the journald SYSLOG_IDENTIFIER when c.Output is
// JOURNAL. If identifier is empty, utils.AppName() is used.
func NewLoggingFromConfig(identifier string, c Config) (*Logging, error) {
	if identifier == "" {
		identifier = utils.AppName()
	}

	core, err := newCore(identifier, c)
	if err != nil {
		return nil, err
	}

	return &Logging{
		logger:   zap.New(core),
		interval: c.Interval,
		options:  c.Options,
	}, nil
}

// GetLogger returns the root Logger.
func (l *Logging) GetLogger() *Logger {
	return NewLogger(l.logger.Sugar(), l.interval)
}

// GetChildLogger returns a Logger named name. If c.Options sets a level for
// name that is above the root level, the child logs at that level; a
// configured level at or below the root level leaves the child at the root
// level, since zap.IncreaseLevel cannot lower a core's level.
func (l *Logging) GetChildLogger(name string) *Logger {
	child := l.logger.Named(name)

	if lvl, ok := l.options[name]; ok {
		child = child.WithOptions(zap.IncreaseLevel(lvl))
	}

	return NewLogger(child.Sugar(), l.interval)
}

func newCore(identifier string, c Config) (zapcore.Core, error) {
	switch c.Output {
	case CONSOLE, "":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder := zapcore.NewConsoleEncoder(encoderConfig)

		return zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), c.Level), nil
	case JOURNAL:
		return NewJournaldCore(identifier, c.Level), nil
	default:
		return nil, errors.WithStack(invalidOutput(c.Output))
	}
}
