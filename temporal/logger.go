package temporal

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger adapts a zap logger to the Temporal SDK logger
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	_ log.Logger     = (*Logger)(nil)
	_ log.WithLogger = (*Logger)(nil)
)

// NewLogger wraps logger for use in client and worker options
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.sugar.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.sugar.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.sugar.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.sugar.Errorw(msg, keyvals...) }

// With returns a logger that adds keyvals to every entry
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}
