package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler inspects a raw text frame. It returns the action that delivers the
// frame to its protocol, or nil when the frame is not meant for it.
type Handler interface {
	HandleMessage(msg string) func()
}

type HandlerFunc func(msg string) func()

func (f HandlerFunc) HandleMessage(msg string) func() {
	return f(msg)
}

// Mux fans every inbound frame out to all registered handlers. Every handler
// is asked and every returned action runs, so two protocols may both accept
// the same frame.
type Mux struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewMux(handlers ...Handler) *Mux {
	return &Mux{handlers: handlers}
}

func (m *Mux) Register(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Dispatch reports whether any handler accepted msg.
func (m *Mux) Dispatch(msg string) bool {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	actions := make([]func(), 0, len(handlers))
	for _, h := range handlers {
		if action := h.HandleMessage(msg); action != nil {
			actions = append(actions, action)
		}
	}
	if len(actions) == 0 {
		log.Warn().Int("bytes", len(msg)).Msg("no protocol accepted message, dropping it")
		return false
	}
	for _, action := range actions {
		action()
	}
	return true
}
