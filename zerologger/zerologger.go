// Package zerologger adapts a zerolog.Logger to the eventfully Logger
// interface.
package zerologger

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cfrenzel/eventfully"
)

// Logger forwards eventfully log calls to zerolog. Args are alternating
// key/value pairs; a trailing key without a value is logged under "arg".
type Logger struct {
	logger zerolog.Logger
}

var _ eventfully.Logger = Logger{}

// New wraps the given zerolog logger.
func New(logger zerolog.Logger) Logger {
	return Logger{logger: logger}
}

// Debug logs at debug level.
func (l Logger) Debug(msg string, args ...any) {
	l.emit(l.logger.Debug(), msg, args)
}

// Info logs at info level.
func (l Logger) Info(msg string, args ...any) {
	l.emit(l.logger.Info(), msg, args)
}

// Warn logs at warn level.
func (l Logger) Warn(msg string, args ...any) {
	l.emit(l.logger.Warn(), msg, args)
}

// Error logs at error level.
func (l Logger) Error(msg string, args ...any) {
	l.emit(l.logger.Error(), msg, args)
}

func (l Logger) emit(event *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		event = applyField(event, key, args[i+1])
	}
	if len(args)%2 != 0 {
		event = applyField(event, "arg", args[len(args)-1])
	}
	event.Msg(msg)
}

func applyField(event *zerolog.Event, key string, value any) *zerolog.Event {
	if err, ok := value.(error); ok {
		if key == "error" {
			return event.Err(err)
		}

		return event.AnErr(key, err)
	}

	return event.Interface(key, value)
}
