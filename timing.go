package pkdtree

import (
	"time"

	"go.uber.org/zap"
)

// timeLog marks the start and end of named build events on the
// configured logger when timing is enabled. The zero value and the
// disabled state are both no-ops, so call sites stay unconditional.
type timeLog struct {
	log     *zap.Logger
	enabled bool
}

// scope marks the start of an event and returns the function that
// marks its end.
//
//	defer t.tm.scope("BreadthFirstDivide")()
func (tl timeLog) scope(event string) func() {
	if !tl.enabled {
		return func() {}
	}
	start := time.Now()
	tl.log.Debug("event start", zap.String("event", event))
	return func() {
		tl.log.Debug("event end",
			zap.String("event", event),
			zap.Duration("elapsed", time.Since(start)))
	}
}
