// Package dsutest provides a loopback DSU server for tests and local
// experiments, in the manner of net/http/httptest.
package dsutest

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/dsu"
)

// ErrHangUp makes the server close the connection without replying.
var ErrHangUp = errors.New("hang up")

// Session is the per-connection state handed to a Handler.
type Session struct {
	RemoteAddr net.Addr
	// User and Token are set by handlers that authenticate joins.
	User  string
	Token string
}

// Handler answers the request lines of a connection. A nil reply sends
// nothing; an error closes the connection.
type Handler interface {
	ServeDSU(s *Session, line []byte) (reply []byte, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, line []byte) ([]byte, error)

func (f HandlerFunc) ServeDSU(s *Session, line []byte) ([]byte, error) {
	return f(s, line)
}

// Server accepts DSU connections and serves each one on its own goroutine.
type Server struct {
	listener *net.TCPListener
	handler  Handler
	logger   dsu.Logger

	group  errgroup.Group
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
	conns    map[net.Conn]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger dsu.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server bound to addr. It does not accept connections until
// Serve is called.
func New(addr *net.TCPAddr, handler Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		handler:  handler,
		logger:   slog.Default(),
		conns:    make(map[net.Conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// NewServer starts a server on a free loopback port. It panics if the port
// cannot be bound. Callers must Close it.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	s, err := New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, handler, opts...)
	if err != nil {
		panic("dsutest: failed to listen: " + err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.Serve(ctx) }()
	return s
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		if !s.start(conn) {
			_ = conn.Close()
		}
	}
}

// start serves conn on a tracked goroutine unless the server is shutting down.
// The goroutine is started under the lock so that Close never waits on a
// group that is still growing.
func (s *Server) start(conn *net.TCPConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	s.group.Go(func() error {
		defer s.untrack(conn)
		s.serveConn(conn)
		return nil
	})
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	session := &Session{RemoteAddr: conn.RemoteAddr()}
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		reply, err := s.handler.ServeDSU(session, bytes.TrimRight(line, "\r\n"))
		if err != nil {
			if !errors.Is(err, ErrHangUp) {
				s.logger.Debug("handler error", "remote_addr", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if reply == nil {
			continue
		}

		if !bytes.HasSuffix(reply, []byte("\n")) {
			reply = append(reply, "\r\n"...)
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

// Close stops accepting, closes open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	s.shutdown = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	_ = s.group.Wait()
	return err
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Host returns the listener's IP as a string.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listener's port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostPort returns "host:port" suitable for dsu.NewClient.
func (s *Server) HostPort() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}
