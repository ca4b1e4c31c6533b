// Package im is the real-time routing core: the user to connection registry,
// bounded per-connection outbound queues and the command dispatcher.
//
// Each connection runs in its own pair of goroutines. The Registry is the only
// state shared between connections.
package im

import (
	"context"
	"log/slog"
)

// Hub wires a Registry and Dispatcher together and creates sessions for the
// transports (WebSocket, TCP) that share them.
type Hub struct {
	Registry   *Registry
	Dispatcher *Dispatcher

	opts   SessionOptions
	logger *slog.Logger
}

// NewHub creates a hub. opts is applied to every session it serves.
func NewHub(opts SessionOptions) *Hub {
	opts = opts.withDefaults()
	registry := NewRegistry(opts.Logger)
	return &Hub{
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, opts.Logger),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// SetOnOpen installs the hook run when a session becomes OPEN. It must be called
// before the hub serves connections.
func (h *Hub) SetOnOpen(fn func(ctx context.Context, userID int64) error) {
	h.opts.OnOpen = fn
}

// NewSession creates a session for userID over t without starting it.
func (h *Hub) NewSession(userID int64, t Transport) *Session {
	return NewSession(userID, t, h.Registry, h.Dispatcher, h.opts)
}

// Serve runs a session for userID over t until the connection ends.
func (h *Hub) Serve(ctx context.Context, userID int64, t Transport) error {
	return h.NewSession(userID, t).Run(ctx)
}

// Online returns the number of connected users.
func (h *Hub) Online() int {
	return h.Registry.Count()
}

// Shutdown closes every connection. Sessions observe their node being retired
// and finish their own teardown.
func (h *Hub) Shutdown() {
	h.logger.Info("hub_shutdown", "online", h.Registry.Count())
	h.Registry.CloseAll()
}
