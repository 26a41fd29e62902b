package usecase

import (
	"context"
	"fmt"
	"sync"
)

// CommandHandler performs one named side effect, such as delivering an
// outbox item.
type CommandHandler func(ctx context.Context, payload interface{}) (interface{}, error)

// Dispatcher routes named commands to their handlers.
type Dispatcher struct {
	handlers map[string]CommandHandler
	mu       sync.RWMutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]CommandHandler)}
}

// RegisterCommand installs handler under name, replacing any previous one.
func (d *Dispatcher) RegisterCommand(name string, handler CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler
}

// ExecuteCommand fails when no handler is registered for name.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, name string, payload interface{}) (interface{}, error) {
	d.mu.RLock()
	handler, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("command handler %s not registered", name)
	}
	return handler(ctx, payload)
}
