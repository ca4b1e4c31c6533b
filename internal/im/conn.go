package im

import "context"

// Transport abstracts one established client connection (WebSocket or TCP).
// It isolates socket details from routing.
type Transport interface {
	// Receive blocks for the next inbound frame.
	// Any error is terminal for the connection.
	Receive(ctx context.Context) ([]byte, error)

	// Send writes a single outbound frame.
	Send(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
