package dispatch

import (
	"errors"
	"sync"
)

var ErrHandlerNil = errors.New("dispatch: handler is nil")

// Registry holds universal handlers in registration order and indexed
// handlers per header code, each list also in registration order.
type Registry struct {
	mu        sync.RWMutex
	all       []Handler
	universal []Handler
	indexed   map[uint32][]Handler
}

func NewRegistry() *Registry {
	return &Registry{indexed: make(map[uint32][]Handler)}
}

// Register adds h. A handler listing the same header twice is invoked twice
// for that header.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	headers := h.HeadersAccepted()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, h)
	if len(headers) == 0 {
		r.universal = append(r.universal, h)
		return nil
	}
	for _, header := range headers {
		r.indexed[header] = append(r.indexed[header], h)
	}
	return nil
}

// Handlers returns the delivery list for header: universal handlers first,
// then the ones indexed on header.
func (r *Registry) Handlers(header uint32) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	indexed := r.indexed[header]
	out := make([]Handler, 0, len(r.universal)+len(indexed))
	out = append(out, r.universal...)
	out = append(out, indexed...)
	return out
}

// Len counts registered handlers, not registrations per header.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}
