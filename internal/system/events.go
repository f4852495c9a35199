package system

import (
	"github.com/efeuentertainment/vigiclient/internal/engine"
	"github.com/efeuentertainment/vigiclient/internal/session"
)

// fanout delivers every session event to each handler in order.
type fanout []engine.EventHandler

func (f fanout) HandleEvent(ev session.Event) {
	for _, h := range f {
		h.HandleEvent(ev)
	}
}
