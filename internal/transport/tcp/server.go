package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"imhub/internal/im"
)

const HandshakeTimeout = 10 * time.Second

// TokenChecker validates the handshake credentials.
type TokenChecker interface {
	CheckToken(userID int64, token string) bool
}

type handshake struct {
	UserID int64  `json:"userid"`
	Token  string `json:"token"`
}

var (
	handshakeOK     = []byte(`{"status":"ok"}`)
	handshakeDenied = []byte(`{"error":"unauthorized"}`)
)

// Server accepts TCP connections and serves each one as a hub session.
type Server struct {
	addr           string
	hub            *im.Hub
	tokens         TokenChecker
	maxMessageSize int
	logger         *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	quitChan chan struct{}
	stopOnce sync.Once
	// tracks connection handler goroutines
	wg sync.WaitGroup
}

func NewServer(addr string, hub *im.Hub, tokens TokenChecker, maxMessageSize int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:           addr,
		hub:            hub,
		tokens:         tokens,
		maxMessageSize: maxMessageSize,
		logger:         logger,
		conns:          make(map[net.Conn]struct{}),
		quitChan:       make(chan struct{}),
	}
}

// Listen binds the server address. Start calls it when it has not been
// called yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start accepts connections until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("tcp_server_started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("tcp_accept_failed", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		go func(conn net.Conn) {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quitChan:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConnection authenticates the handshake line, then runs the session
// until the connection ends.
func (s *Server) handleConnection(conn net.Conn) {
	c := NewConn(conn, s.maxMessageSize)
	defer c.Close()

	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	userID, err := s.authenticate(c)
	if err != nil {
		s.logger.Warn("tcp_handshake_rejected",
			"remote_addr", c.RemoteAddr(),
			"error", err,
		)
		c.Send(context.Background(), handshakeDenied)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := c.Send(context.Background(), handshakeOK); err != nil {
		return
	}

	if err := s.hub.Serve(context.Background(), userID, c); err != nil {
		s.logger.Debug("tcp_session_ended",
			"user_id", userID,
			"remote_addr", c.RemoteAddr(),
			"error", err,
		)
	}
}

func (s *Server) authenticate(c *Conn) (int64, error) {
	line, err := c.Receive(context.Background())
	if err != nil {
		return 0, fmt.Errorf("read handshake: %w", err)
	}
	var hs handshake
	if err := json.Unmarshal(line, &hs); err != nil {
		return 0, fmt.Errorf("decode handshake: %w", err)
	}
	if hs.UserID <= 0 || !s.tokens.CheckToken(hs.UserID, hs.Token) {
		return 0, fmt.Errorf("invalid credentials for user %d", hs.UserID)
	}
	return hs.UserID, nil
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quitChan)
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info("tcp_server_stopped")
	})
}
