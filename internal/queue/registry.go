package queue

import (
	"context"
	"sync"
)

// Handler attempts one delivery of opaque content to a destination. A nil
// return means delivered; any error is a failed attempt and consumes a
// retry. Implementations live outside the queue (webhook senders etc.).
type Handler interface {
	Deliver(ctx context.Context, destination, content string) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, destination, content string) error

func (f HandlerFunc) Deliver(ctx context.Context, destination, content string) error {
	return f(ctx, destination, content)
}

// Registry maps a message type to the handler that can deliver it.
// Read-mostly: lookups happen on every attempt, registration is rare.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a message type. Re-registering a type
// replaces the previous handler; messages already queued for that type pick
// up the new handler on their next attempt.
func (r *Registry) Register(messageType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = h
}

func (r *Registry) Resolve(messageType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
