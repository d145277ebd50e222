package bootcheck

import "go.uber.org/zap"

var logSink = zap.NewNop()

// SetLogger allows callers/tests to inject a zap logger instead of the
// default no-op one. Passing nil resets to the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logSink = zap.NewNop()
		return
	}
	logSink = l
}

func logger() *zap.Logger {
	return logSink
}
