package logger

// Logger is the leveled logging surface used across the client. Format
// variants take printf-style arguments; Debugw attaches structured fields.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
