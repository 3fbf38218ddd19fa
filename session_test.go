package dsu

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyServer answers the lines of a single connection with replies, in
// order, then hangs up.
type replyServer struct {
	listener net.Listener

	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func newReplyServer(t *testing.T, replies ...string) *replyServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &replyServer{listener: listener, done: make(chan struct{})}
	t.Cleanup(func() { listener.Close() })

	go func() {
		defer close(s.done)

		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		for _, reply := range replies {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			s.mu.Lock()
			s.lines = append(s.lines, line)
			s.mu.Unlock()

			if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
				return
			}
		}
	}()

	return s
}

func (s *replyServer) received() []string {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func newTestClient(t *testing.T, addr string, logger Logger) *Client {
	t.Helper()

	client, err := NewClient(addr, Credentials{Username: "alice", Password: "secret"},
		LoggerOption(logger),
		TimeoutOption(2*time.Second),
		ClockOption(func() time.Time { return time.Unix(1700000000, 500000000) }),
	)
	require.NoError(t, err)
	return client
}

func TestSession_StatesOnSuccess(t *testing.T) {
	server := newReplyServer(t,
		`{"response":{"type":"ok","message":"welcome","token":"T1"}}`,
		`{"response":{"type":"ok","message":"sent"}}`,
	)
	logger := &mockLogger{}
	client := newTestClient(t, server.listener.Addr().String(), logger)

	require.NoError(t, client.Send(context.Background(), "hi", "bob"))

	assert.Equal(t, []string{"connecting", "authenticating", "authenticated", "acting", "closed"}, logger.states())
	assert.Equal(t, []string{"call succeeded"}, logger.messages("info"))
	assert.Empty(t, logger.messages("warn"))

	lines := server.received()
	require.Len(t, lines, 2)
	assert.Equal(t, `{"join":{"username":"alice","password":"secret","token":""}}`+"\r\n", lines[0])
	assert.Equal(t,
		`{"token":"T1","directmessage":{"entry":"hi","recipient":"bob","timestamp":"1700000000.5"}}`+"\r\n",
		lines[1])
}

func TestSession_FailedIsAbsorbing(t *testing.T) {
	server := newReplyServer(t, `{"response":{"type":"error","message":"bad password"}}`)
	logger := &mockLogger{}
	client := newTestClient(t, server.listener.Addr().String(), logger)

	err := client.Send(context.Background(), "hi", "bob")
	assert.ErrorIs(t, err, ErrAuth)

	// The deferred close does not move the session out of Failed.
	assert.Equal(t, []string{"connecting", "authenticating", "failed"}, logger.states())
	assert.Equal(t, []string{"call failed"}, logger.messages("warn"))
	assert.Len(t, server.received(), 1)
}

func TestSession_ConnectFailure(t *testing.T) {
	logger := &mockLogger{}
	client := newTestClient(t, unusedAddr(t), logger)

	err := client.Send(context.Background(), "hi", "bob")
	assert.ErrorIs(t, err, ErrNetwork)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StageConnect, e.Stage)
	assert.Equal(t, []string{"connecting", "failed"}, logger.states())
}

func TestSession_CallIDsDiffer(t *testing.T) {
	c := &Client{opts: newOptions()}

	a := c.newSession("send")
	b := c.newSession("send")
	assert.NotEmpty(t, a.callID)
	assert.NotEqual(t, a.callID, b.callID)
}

func TestSession_TokenCaptured(t *testing.T) {
	server := newReplyServer(t,
		`{"response":{"type":"ok","message":"welcome","token":"T42"}}`,
		`{"response":{"type":"ok","message":"all","messages":[]}}`,
	)
	client := newTestClient(t, server.listener.Addr().String(), &mockLogger{})

	records, err := client.RetrieveAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	lines := server.received()
	require.Len(t, lines, 2)
	assert.Equal(t, `{"token":"T42","directmessage":"all"}`+"\r\n", lines[1])
}

func TestSession_MissingTokenSendsEmpty(t *testing.T) {
	server := newReplyServer(t,
		`{"response":{"type":"ok","message":"welcome"}}`,
		`{"response":{"type":"ok","message":"sent"}}`,
	)
	client := newTestClient(t, server.listener.Addr().String(), &mockLogger{})

	require.NoError(t, client.Send(context.Background(), "hi", "bob"))

	lines := server.received()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"token":""`)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
