// Package logifaceadapter adapts a github.com/joeycumines/logiface.Logger
// into a taskloop.Logger, following the shape of the pack's
// logiface-zerolog/logiface-logrus backend adapters, but in the opposite
// direction: here logiface itself is the backend, wrapped to satisfy a
// narrower consumer interface rather than implementing logiface's own
// Event/Writer contract.
package logifaceadapter

import (
	"github.com/joeycumines/logiface"

	taskloop "github.com/joeycumines/go-taskloop"
)

// Adapter wraps a *logiface.Logger[E] as a taskloop.Logger.
type Adapter[E logiface.Event] struct {
	logger *logiface.Logger[E]
}

// New wraps logger as a taskloop.Logger.
func New[E logiface.Event](logger *logiface.Logger[E]) *Adapter[E] {
	return &Adapter[E]{logger: logger}
}

// Log implements taskloop.Logger, mapping a taskloop.LogLevel to the
// corresponding logiface builder method and every Field to Builder.Any.
// A disabled level yields a nil *logiface.Builder, whose methods are all
// nil-receiver safe, so this never allocates or writes when filtered out.
func (a *Adapter[E]) Log(level taskloop.LogLevel, msg string, fields ...taskloop.Field) {
	b := a.build(level)
	for _, f := range fields {
		b = b.Any(f.Key, f.Value)
	}
	b.Log(msg)
}

func (a *Adapter[E]) build(level taskloop.LogLevel) *logiface.Builder[E] {
	switch level {
	case taskloop.LevelDebug:
		return a.logger.Debug()
	case taskloop.LevelInfo:
		return a.logger.Info()
	case taskloop.LevelWarn:
		return a.logger.Warning()
	case taskloop.LevelError:
		return a.logger.Err()
	default:
		return a.logger.Info()
	}
}
