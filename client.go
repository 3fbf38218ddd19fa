package dsu

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Credentials identify the user on the server. They are sent as plain fields
// of the join request.
type Credentials struct {
	Username string
	Password string
}

// Client talks to one DSU server on behalf of one user. It holds no
// connection between calls.
type Client struct {
	addr  string
	creds Credentials
	opts  options
}

// NewClient creates a client for the server at host. The port comes from
// PortOption unless host already carries one.
func NewClient(host string, creds Credentials, opt ...Option) (*Client, error) {
	if host == "" {
		return nil, invalidArgument(StageConnect, "empty server host")
	}

	opts := newOptions(opt...)

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(opts.port))
	}

	return &Client{addr: addr, creds: creds, opts: opts}, nil
}

// Addr returns the server address the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Username returns the user the client authenticates as.
func (c *Client) Username() string {
	return c.creds.Username
}

// FormatTimestamp formats t the way entries are stamped on the wire: seconds
// since the epoch with a fractional part.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
}

func (c *Client) timestamp() string {
	return FormatTimestamp(c.opts.clock())
}

// Send delivers body to recipient. It succeeds only if both the join and the
// message are accepted.
func (c *Client) Send(ctx context.Context, body, recipient string) error {
	_, err := c.SendMessage(ctx, body, recipient)
	return err
}

// SendMessage is Send returning the outgoing record as the server stored it,
// stamped with the timestamp that went on the wire.
func (c *Client) SendMessage(ctx context.Context, body, recipient string) (DirectMessageRecord, error) {
	if body == "" {
		return DirectMessageRecord{}, invalidArgument(StageSend, "empty message body")
	}

	record := DirectMessageRecord{
		Sender:    recipient,
		Body:      body,
		Timestamp: c.timestamp(),
		Direction: Outgoing,
	}
	err := c.run(ctx, "send", func(ctx context.Context, s *session) error {
		_, err := s.exchange(ctx, StageSend, DirectMessageSend{
			Token:     s.token,
			Entry:     record.Body,
			Recipient: record.Sender,
			Timestamp: record.Timestamp,
		})
		return err
	})
	if err != nil {
		return DirectMessageRecord{}, err
	}
	return record, nil
}

// Retrieve fetches the user's new or all messages in server order. An ok
// reply without messages yields an empty slice.
func (c *Client) Retrieve(ctx context.Context, kind RetrieveKind) ([]DirectMessageRecord, error) {
	if !kind.Valid() {
		return nil, invalidArgument(StageRetrieve, "invalid message request kind "+strconv.Quote(string(kind)))
	}

	records := []DirectMessageRecord{}
	err := c.run(ctx, "retrieve_"+string(kind), func(ctx context.Context, s *session) error {
		resp, err := s.roundTrip(ctx, StageRetrieve, MessageRequest{Token: s.token, Kind: kind})
		if err != nil {
			return err
		}
		if err := classify(StageRetrieve, resp.envelope()); err != nil {
			return err
		}

		for _, m := range resp.messageList() {
			record, err := m.Record()
			if err != nil {
				return withStage(StageRetrieve, err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RetrieveAll fetches every stored message of the user.
func (c *Client) RetrieveAll(ctx context.Context) ([]DirectMessageRecord, error) {
	return c.Retrieve(ctx, RetrieveAll)
}

// RetrieveNew fetches messages not yet delivered to the user. It is cheap to
// call repeatedly; nothing is held between calls.
func (c *Client) RetrieveNew(ctx context.Context) ([]DirectMessageRecord, error) {
	return c.Retrieve(ctx, RetrieveNew)
}

// Publish posts entry and updates the bio over one connection. Either may be
// empty, but not both. The post is sent first; a rejected post stops the call.
func (c *Client) Publish(ctx context.Context, post, bio string) error {
	if post == "" && bio == "" {
		return invalidArgument(StagePost, "nothing to publish")
	}

	return c.run(ctx, "publish", func(ctx context.Context, s *session) error {
		if post != "" {
			_, err := s.exchange(ctx, StagePost, PostSend{Token: s.token, Entry: post, Timestamp: c.timestamp()})
			if err != nil {
				return err
			}
		}
		if bio != "" {
			_, err := s.exchange(ctx, StageBio, BioSend{Token: s.token, Entry: bio, Timestamp: c.timestamp()})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// PublishPost posts entry to the user's journal.
func (c *Client) PublishPost(ctx context.Context, entry string) error {
	if entry == "" {
		return invalidArgument(StagePost, "empty post")
	}
	return c.Publish(ctx, entry, "")
}

// UpdateBio replaces the user's bio.
func (c *Client) UpdateBio(ctx context.Context, bio string) error {
	if bio == "" {
		return invalidArgument(StageBio, "empty bio")
	}
	return c.Publish(ctx, "", bio)
}

// Ping checks that the server accepts connections. It sends nothing.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := dial(ctx, c.addr, c.opts)
	if err != nil {
		return networkError(StageConnect, err)
	}
	return conn.Close()
}
