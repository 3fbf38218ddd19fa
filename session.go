package dsu

import (
	"context"

	"github.com/google/uuid"
)

// State is a step in the life of a single call.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Authenticated
	Acting
	Closed
	// Failed is absorbing: once entered, no further transition happens.
	Failed
)

var stateNames = [...]string{
	Disconnected:   "disconnected",
	Connecting:     "connecting",
	Authenticating: "authenticating",
	Authenticated:  "authenticated",
	Acting:         "acting",
	Closed:         "closed",
	Failed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// session drives one call: connect, join, act, close. The token lives only
// as long as the session and its connection.
type session struct {
	client *Client
	conn   *Conn
	logger Logger
	op     string
	callID string

	state State
	token string
}

func (c *Client) newSession(op string) *session {
	return &session{
		client: c,
		logger: c.opts.logger,
		op:     op,
		callID: uuid.NewString(),
	}
}

func (s *session) transition(to State) {
	if s.state == Failed {
		return
	}
	s.logger.Debug("session state", "call_id", s.callID, "op", s.op, "from", s.state, "to", to)
	s.state = to
}

// fail moves the session to Failed and returns err for the caller.
func (s *session) fail(err error) error {
	s.transition(Failed)
	s.logger.Warn("call failed", "call_id", s.callID, "op", s.op, "addr", s.client.addr, "error", err)
	return err
}

func (s *session) connect(ctx context.Context) error {
	s.transition(Connecting)
	conn, err := dial(ctx, s.client.addr, s.client.opts)
	if err != nil {
		return networkError(StageConnect, err)
	}
	s.conn = conn
	return nil
}

func (s *session) authenticate(ctx context.Context) error {
	s.transition(Authenticating)
	env, err := s.exchange(ctx, StageAuth, Join{
		Username: s.client.creds.Username,
		Password: s.client.creds.Password,
	})
	if err != nil {
		return err
	}
	s.token = env.Token
	s.transition(Authenticated)
	return nil
}

// exchange sends req and classifies the reply for stage.
func (s *session) exchange(ctx context.Context, stage Stage, req Request) (Envelope, error) {
	resp, err := s.roundTrip(ctx, stage, req)
	if err != nil {
		return Envelope{}, err
	}
	env := resp.envelope()
	return env, classify(stage, env)
}

// roundTrip writes req and decodes its reply without classifying it.
func (s *session) roundTrip(ctx context.Context, stage Stage, req Request) (*Response, error) {
	line, err := s.conn.Exchange(ctx, req)
	if err != nil {
		return nil, networkError(stage, err)
	}
	resp, err := decodeResponse(line)
	if err != nil {
		return nil, withStage(stage, err)
	}
	return resp, nil
}

func (s *session) close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.transition(Closed)
}

// run executes act inside a fresh authenticated session. The connection is
// closed on every path.
func (c *Client) run(ctx context.Context, op string, act func(ctx context.Context, s *session) error) error {
	s := c.newSession(op)

	if err := s.connect(ctx); err != nil {
		return s.fail(err)
	}
	defer s.close()

	if err := s.authenticate(ctx); err != nil {
		return s.fail(err)
	}

	s.transition(Acting)
	if err := act(ctx, s); err != nil {
		return s.fail(err)
	}

	s.logger.Info("call succeeded", "call_id", s.callID, "op", op, "addr", c.addr)
	return nil
}
