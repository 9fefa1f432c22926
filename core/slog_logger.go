package core

import (
	"fmt"
	"log/slog"
)

// SlogAdapter satisfies the Logger interface on top of a *slog.Logger, so
// the engine's leveled printf-style calls land in the host's structured
// log stream.
type SlogAdapter struct {
	*slog.Logger
}

var _ Logger = (*SlogAdapter)(nil)

func (l *SlogAdapter) Criticalf(format string, args ...any) {
	l.Logger.Error(fmt.Sprintf(format, args...), slog.Bool("critical", true))
}

func (l *SlogAdapter) Debugf(format string, args ...any) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Errorf(format string, args ...any) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Noticef(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Warningf(format string, args ...any) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}
