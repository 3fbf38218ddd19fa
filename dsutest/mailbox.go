package dsutest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Zereker/dsu"
)

// Replies sent by Mailbox.
const (
	msgInvalidRequest  = "Invalid request"
	msgInvalidToken    = "Invalid user token"
	msgBadCredentials  = "Invalid password or username already taken"
	msgUnknownUser     = "Unable to send direct message"
	msgMessageSent     = "Direct message sent"
	msgPostPublished   = "Post published to DSP platform"
	msgBioPublished    = "Bio published to DSP platform"
	msgNewMessages     = "Unread messages"
	msgAllMessages     = "All messages"
	msgWelcomeTemplate = "Welcome back, "
)

type account struct {
	password string
	bio      string
	posts    []string
}

type storedMessage struct {
	from, to  string
	body      string
	timestamp string
	delivered bool
}

// Mailbox is an in-memory DSU server. Unknown users are registered on their
// first join; each join issues a fresh token valid for that connection only.
type Mailbox struct {
	mu       sync.Mutex
	accounts map[string]*account
	messages []*storedMessage
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{accounts: make(map[string]*account)}
}

// Register creates a user ahead of its first join.
func (m *Mailbox) Register(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[username] = &account{password: password}
}

// Bio returns the user's current bio.
func (m *Mailbox) Bio(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[username]; ok {
		return a.bio
	}
	return ""
}

// Posts returns the user's posts in publication order.
func (m *Mailbox) Posts(username string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[username]; ok {
		return append([]string(nil), a.posts...)
	}
	return nil
}

func (m *Mailbox) ServeDSU(s *Session, line []byte) ([]byte, error) {
	req, err := dsu.DecodeRequest(line)
	if err != nil {
		return []byte(Error(msgInvalidRequest)), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if join, ok := req.(dsu.Join); ok {
		return []byte(m.join(s, join)), nil
	}

	if s.Token == "" || requestToken(req) != s.Token {
		return []byte(Error(msgInvalidToken)), nil
	}

	switch r := req.(type) {
	case dsu.DirectMessageSend:
		if _, ok := m.accounts[r.Recipient]; !ok {
			return []byte(Error(msgUnknownUser)), nil
		}
		m.messages = append(m.messages, &storedMessage{
			from:      s.User,
			to:        r.Recipient,
			body:      r.Entry,
			timestamp: r.Timestamp,
		})
		return []byte(OK(msgMessageSent)), nil

	case dsu.MessageRequest:
		if r.Kind == dsu.RetrieveNew {
			return []byte(Messages(msgNewMessages, m.unread(s.User)...)), nil
		}
		return []byte(Messages(msgAllMessages, m.all(s.User)...)), nil

	case dsu.PostSend:
		a := m.accounts[s.User]
		a.posts = append(a.posts, r.Entry)
		return []byte(OK(msgPostPublished)), nil

	case dsu.BioSend:
		m.accounts[s.User].bio = r.Entry
		return []byte(OK(msgBioPublished)), nil
	}

	return []byte(Error(msgInvalidRequest)), nil
}

func (m *Mailbox) join(s *Session, join dsu.Join) string {
	a, ok := m.accounts[join.Username]
	if !ok {
		a = &account{password: join.Password}
		m.accounts[join.Username] = a
	}
	if a.password != join.Password {
		return Error(msgBadCredentials)
	}

	s.User = join.Username
	s.Token = uuid.NewString()
	return OKToken(msgWelcomeTemplate+join.Username, s.Token)
}

// unread returns and marks delivered the messages addressed to user.
func (m *Mailbox) unread(user string) []dsu.WireMessage {
	var out []dsu.WireMessage
	for _, msg := range m.messages {
		if msg.to == user && !msg.delivered {
			msg.delivered = true
			out = append(out, dsu.IncomingMessage(msg.from, msg.body, msg.timestamp))
		}
	}
	return out
}

// all returns every message user sent or received, in the order stored.
func (m *Mailbox) all(user string) []dsu.WireMessage {
	var out []dsu.WireMessage
	for _, msg := range m.messages {
		switch {
		case msg.to == user:
			msg.delivered = true
			out = append(out, dsu.IncomingMessage(msg.from, msg.body, msg.timestamp))
		case msg.from == user:
			out = append(out, dsu.OutgoingMessage(msg.to, msg.body, msg.timestamp))
		}
	}
	return out
}

func requestToken(req dsu.Request) string {
	switch r := req.(type) {
	case dsu.DirectMessageSend:
		return r.Token
	case dsu.MessageRequest:
		return r.Token
	case dsu.PostSend:
		return r.Token
	case dsu.BioSend:
		return r.Token
	}
	return ""
}
