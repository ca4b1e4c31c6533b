package im

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultDrainTimeout   = time.Second      // writer wake-up interval
	DefaultIdleTimeout    = 90 * time.Second // no frames for this long closes the connection
	DefaultMaxMessageSize = 64 * 1024
	DefaultRateLimit      = 10 // frames per second
	DefaultRateBurst      = 20
)

var (
	ErrSessionStarted = errors.New("session already started")
	ErrIdleTimeout    = errors.New("connection idle")
	ErrReplaced       = errors.New("connection replaced by a newer login")
	ErrSessionClosed  = errors.New("session closed before start")
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionOptions tunes the per-connection loops. Zero values fall back to the
// defaults, except IdleTimeout, MaxMessageSize and RateLimit where a negative
// value disables the check.
type SessionOptions struct {
	QueueCapacity  int
	DrainTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxMessageSize int
	RateLimit      float64
	RateBurst      int

	Decoder Decoder
	Encoder Encoder

	// OnOpen runs once the session is registered, before the loops start.
	// A returned error is logged and does not close the connection.
	OnOpen func(ctx context.Context, userID int64) error

	Logger *slog.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.QueueCapacity < 1 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.RateLimit == 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.RateBurst < 1 {
		o.RateBurst = DefaultRateBurst
	}
	if o.Decoder == nil {
		o.Decoder = JSONCodec{}
	}
	if o.Encoder == nil {
		o.Encoder = JSONCodec{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session drives one authenticated connection through
// CONNECTING -> OPEN -> CLOSING -> CLOSED. It owns the reader and writer loops.
type Session struct {
	ID     string
	UserID int64

	transport  Transport
	registry   *Registry
	dispatcher *Dispatcher
	opts       SessionOptions
	limiter    *rate.Limiter
	logger     *slog.Logger

	node      *Node
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	cause     error
}

// NewSession creates a session for an already authenticated user.
func NewSession(userID int64, transport Transport, registry *Registry, dispatcher *Dispatcher, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		ID:         id,
		UserID:     userID,
		transport:  transport,
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		node:       NewNode(transport, opts.QueueCapacity),
		done:       make(chan struct{}),
		logger: opts.Logger.With(
			"session_id", id,
			"user_id", userID,
		),
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Node returns the session's outbound channel.
func (s *Session) Node() *Node { return s.node }

// Done is closed once teardown has begun.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run registers the session, runs the writer loop in a new goroutine and the
// reader loop on the caller's goroutine. It returns after both loops exited and
// the registry entry was released. The returned error is what ended the
// connection; an explicit Close returns nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		if s.State() == StateClosed {
			return ErrSessionClosed
		}
		return ErrSessionStarted
	}

	if prev := s.registry.Register(s.UserID, s.node); prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Warn("replaced_client_close_failed", "error", err.Error())
		}
	}
	s.logger.Info("session_opened", "remote_addr", s.transport.RemoteAddr())

	if s.opts.OnOpen != nil {
		if err := s.opts.OnOpen(ctx, s.UserID); err != nil {
			s.logger.Warn("session_open_hook_failed", "error", err.Error())
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			s.teardown(nil)
		case <-s.done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)
	s.teardown(nil)
	wg.Wait()
	// teardown may have raced the Register above
	s.registry.Release(s.UserID, s.node)

	s.state.Store(int32(StateClosed))
	stats := s.node.Stats()
	s.logger.Info("session_closed",
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"drained", stats.Drained,
	)
	return s.cause
}

// Close requests teardown. Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.teardown(nil)
}

func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.cause = cause
		if s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
			// never started: nothing registered, nothing to release
			close(s.done)
			_ = s.node.Close()
			return
		}
		s.state.Store(int32(StateClosing))
		close(s.done)
		s.registry.Release(s.UserID, s.node)
		if err := s.node.Close(); err != nil {
			s.logger.Debug("transport_close_failed", "error", err.Error())
		}
		if cause != nil {
			s.logger.Info("session_closing", "reason", cause.Error())
		}
	})
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		raw, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// the caller asked us to stop
				s.teardown(nil)
				return
			}
			s.teardown(fmt.Errorf("receive: %w", err))
			return
		}
		if s.State() != StateOpen {
			s.logger.Debug("frame_dropped", "reason", string(DropClosing))
			return
		}
		s.handleFrame(raw)
	}
}

// handleFrame validates, decodes and dispatches one inbound frame.
func (s *Session) handleFrame(raw []byte) Result {
	if s.opts.MaxMessageSize > 0 && len(raw) > s.opts.MaxMessageSize {
		s.logger.Warn("message_too_large",
			"size", len(raw),
			"max_size", s.opts.MaxMessageSize,
		)
		return Result{Reason: DropOversized}
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("rate_limit_exceeded")
		return Result{Reason: DropRateLimited}
	}

	msg, err := s.opts.Decoder.Decode(raw)
	if err != nil {
		s.logger.Warn("invalid_frame_received", "error", err.Error())
		return Result{Reason: DropDecode}
	}

	switch msg.SenderID {
	case s.UserID:
	case 0:
		msg.SenderID = s.UserID
		if raw, err = s.opts.Encoder.Encode(msg); err != nil {
			s.logger.Error("frame_reencode_failed", "error", err.Error())
			return Result{Command: msg.Command, Reason: DropDecode}
		}
	default:
		s.logger.Warn("spoofed_sender", "claimed_user_id", msg.SenderID)
		return Result{Command: msg.Command, Reason: DropSpoofed}
	}

	s.node.Touch()
	return s.dispatcher.Dispatch(msg, raw)
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		payload, ok := s.node.Drain(s.opts.DrainTimeout)
		if !ok {
			if s.node.Retired() {
				// our own teardown, or Register handed the user to a newer node
				s.teardown(ErrReplaced)
				return
			}
			if s.opts.IdleTimeout > 0 && time.Since(s.node.LastSeen()) > s.opts.IdleTimeout {
				s.teardown(ErrIdleTimeout)
				return
			}
			continue
		}

		if err := s.transport.Send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				s.teardown(nil)
				return
			}
			s.teardown(fmt.Errorf("send: %w", err))
			return
		}
	}
}
