package tuyadp

import (
	"log"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/golog"
)

func (a *Adapter) WithGoLogger(parentLogger *log.Logger) {
	a.WithLogWrapLogger(logwrap.New(golog.Wrap(parentLogger)))
}

// WithLogWrapLogger sets the logger of the adapter and of sessions added
// after the call.
func (a *Adapter) WithLogWrapLogger(lw logwrap.Logger) {
	a.logger = lw
}
