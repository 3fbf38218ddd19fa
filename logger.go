package dsu

import "log/slog"

// Logger receives the client's structured logs. *slog.Logger satisfies it, and
// so does any adapter over another logging library.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns slog.Default().
func defaultLogger() Logger {
	return slog.Default()
}
