package im

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
)

// fakeTransport is an in-memory Transport. Frames pushed with push are returned by
// Receive; frames written with Send are collected and also published on sentCh.
type fakeTransport struct {
	in     chan []byte
	sentCh chan []byte

	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	closed    chan struct{}
	closeOnce sync.Once
	addr      string
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		sentCh: make(chan []byte, 128),
		closed: make(chan struct{}),
		addr:   addr,
	}
}

func (f *fakeTransport) push(frame string) {
	f.in <- []byte(frame)
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, net.ErrClosed
	case data, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, append([]byte(nil), data...))
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case f.sentCh <- data:
	default:
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

var errBrokenPipe = errors.New("broken pipe")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
