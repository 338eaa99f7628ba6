package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logging into zerolog, tagged with the
// pion scope so ICE/DTLS noise is filterable.
type loggerFactory struct{}

func newLoggerFactory() logging.LoggerFactory { return loggerFactory{} }

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (l scopedLogger) event(level zerolog.Level) *zerolog.Event {
	return log.WithLevel(level).Str("module", "webrtc").Str("scope", l.scope)
}

func (l scopedLogger) Trace(msg string) { l.event(zerolog.TraceLevel).Msg(msg) }
func (l scopedLogger) Tracef(format string, args ...interface{}) {
	l.event(zerolog.TraceLevel).Msgf(format, args...)
}
func (l scopedLogger) Debug(msg string) { l.event(zerolog.DebugLevel).Msg(msg) }
func (l scopedLogger) Debugf(format string, args ...interface{}) {
	l.event(zerolog.DebugLevel).Msgf(format, args...)
}
func (l scopedLogger) Info(msg string) { l.event(zerolog.InfoLevel).Msg(msg) }
func (l scopedLogger) Infof(format string, args ...interface{}) {
	l.event(zerolog.InfoLevel).Msgf(format, args...)
}
func (l scopedLogger) Warn(msg string) { l.event(zerolog.WarnLevel).Msg(msg) }
func (l scopedLogger) Warnf(format string, args ...interface{}) {
	l.event(zerolog.WarnLevel).Msgf(format, args...)
}
func (l scopedLogger) Error(msg string) { l.event(zerolog.ErrorLevel).Msg(msg) }
func (l scopedLogger) Errorf(format string, args ...interface{}) {
	l.event(zerolog.ErrorLevel).Msgf(format, args...)
}
