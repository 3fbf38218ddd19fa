package dsu

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by connection operations.
var (
	// ErrMessageTooLarge is returned when a reply line exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// limitedReader wraps a reader and returns ErrMessageTooLarge when the limit is exceeded.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// reset restores the budget before reading the next reply line.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}

// Conn is a line-oriented connection to a DSU server. It writes one request
// and reads one reply at a time; it never pipelines. A Conn is owned by a
// single call and is not safe for concurrent use.
type Conn struct {
	rawConn       net.Conn
	reader        *bufio.Reader
	limitedReader *limitedReader

	opts   options
	closed atomic.Bool
}

// Dial connects to addr within the dial timeout or until ctx is done.
func Dial(ctx context.Context, addr string, opt ...Option) (*Conn, error) {
	return dial(ctx, addr, newOptions(opt...))
}

func dial(ctx context.Context, addr string, opts options) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return newConn(raw, opts), nil
}

// newConn wraps an established connection.
func newConn(c net.Conn, opts options) *Conn {
	// The limited reader sits under the buffer so that the limit counts bytes
	// taken from the socket, however the buffer chunks them.
	lr := newLimitedReader(c, int64(opts.maxLineLength))
	return &Conn{
		rawConn:       c,
		reader:        bufio.NewReader(lr),
		limitedReader: lr,
		opts:          opts,
	}
}

// Exchange writes req and reads the single reply line that answers it.
func (c *Conn) Exchange(ctx context.Context, req Request) ([]byte, error) {
	if err := c.WriteRequest(ctx, req); err != nil {
		return nil, err
	}
	return c.ReadLine(ctx)
}

// WriteRequest encodes req and writes it, bounded by the I/O timeout and ctx.
func (c *Conn) WriteRequest(ctx context.Context, req Request) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	stop := c.watch(ctx, c.rawConn.SetWriteDeadline)
	defer stop()

	if _, err := c.rawConn.Write(data); err != nil {
		return c.ioError(ctx, err, "write request")
	}
	return nil
}

// ReadLine reads one reply line, without its terminator.
func (c *Conn) ReadLine(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	stop := c.watch(ctx, c.rawConn.SetReadDeadline)
	defer stop()

	c.limitedReader.reset(int64(c.opts.maxLineLength))

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			// A final line without terminator is still a reply.
			return bytes.TrimRight(line, "\r\n"), nil
		}
		return nil, c.ioError(ctx, err, "read reply")
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// watch applies the I/O deadline, tightened by ctx's deadline, and arranges
// for ctx cancellation to interrupt the blocked operation.
func (c *Conn) watch(ctx context.Context, setDeadline func(time.Time) error) func() {
	deadline := time.Now().Add(c.opts.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = setDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

// ioError reports ctx's error in place of the deadline error it caused.
func (c *Conn) ioError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, op)
	}
	// The socket deadline can fire just before ctx's own timer does.
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return errors.Wrap(context.DeadlineExceeded, op)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrap(err, op)
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}
