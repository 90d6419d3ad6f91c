package pool

import "go.uber.org/zap"

// Logger is the logging surface the pool needs. Both *zap.Logger and the
// gofulmen logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

func orNop(logger Logger) Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
