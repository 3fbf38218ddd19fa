package dsutest

import (
	"sync"

	"github.com/Zereker/dsu"
)

// Silent is a scripted reply that sends nothing, leaving the client waiting.
const Silent = ""

// Script replies with a fixed sequence of lines, one per request, regardless
// of what the requests say. When the sequence is exhausted it hangs up. The
// sequence is shared by all connections.
type Script struct {
	mu      sync.Mutex
	replies []string
	next    int
	lines   [][]byte
}

// NewScript returns a handler that sends replies in order.
func NewScript(replies ...string) *Script {
	return &Script{replies: replies}
}

func (sc *Script) ServeDSU(_ *Session, line []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.lines = append(sc.lines, append([]byte(nil), line...))

	if sc.next >= len(sc.replies) {
		return nil, ErrHangUp
	}
	reply := sc.replies[sc.next]
	sc.next++

	if reply == Silent {
		return nil, nil
	}
	return []byte(reply), nil
}

// Lines returns the request lines received so far, without terminators.
func (sc *Script) Lines() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]string, len(sc.lines))
	for i, l := range sc.lines {
		out[i] = string(l)
	}
	return out
}

// Requests decodes the request lines received so far.
func (sc *Script) Requests() ([]dsu.Request, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	reqs := make([]dsu.Request, 0, len(sc.lines))
	for _, l := range sc.lines {
		req, err := dsu.DecodeRequest(l)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// OK builds an ok reply.
func OK(message string) string {
	return reply(dsu.Response{Type: dsu.TypeOK, Message: message})
}

// OKToken builds an ok reply to a join.
func OKToken(message, token string) string {
	return reply(dsu.Response{Type: dsu.TypeOK, Message: message, Token: &token})
}

// Error builds an error reply.
func Error(message string) string {
	return reply(dsu.Response{Type: dsu.TypeError, Message: message})
}

// Messages builds an ok reply carrying msgs.
func Messages(message string, msgs ...dsu.WireMessage) string {
	if msgs == nil {
		msgs = []dsu.WireMessage{}
	}
	return reply(dsu.Response{Type: dsu.TypeOK, Message: message, Messages: msgs})
}

func reply(resp dsu.Response) string {
	b, err := dsu.EncodeResponse(resp)
	if err != nil {
		panic("dsutest: " + err.Error())
	}
	return string(b)
}
