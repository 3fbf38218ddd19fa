// Package dsu implements a client for the DSU messaging protocol: line-delimited
// JSON requests and responses exchanged over TCP.
//
// Every public operation opens its own connection, authenticates with a join
// request, performs exactly one action and closes the connection again. No state
// is shared between calls, so a Client is safe for concurrent use.
package dsu

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// DefaultPort is the TCP port DSU servers listen on.
const DefaultPort = 3001

// lineTerminator ends every request written to the server.
const lineTerminator = "\r\n"

// Wire keys. The direct message key is spelled without an underscore; the
// "direct_message" spelling is not part of this protocol.
const (
	keyJoin          = "join"
	keyDirectMessage = "directmessage"
	keyPost          = "post"
	keyBio           = "bio"
	keyToken         = "token"
)

// Response types reported by the server.
const (
	TypeOK    = "ok"
	TypeError = "error"
)

// RetrieveKind selects which stored messages a message request asks for.
type RetrieveKind string

const (
	// RetrieveNew asks for messages not yet delivered to this user.
	RetrieveNew RetrieveKind = "new"
	// RetrieveAll asks for every stored message of this user.
	RetrieveAll RetrieveKind = "all"
)

// Valid reports whether k is one of the kinds the server understands.
func (k RetrieveKind) Valid() bool {
	return k == RetrieveNew || k == RetrieveAll
}

// Request is one client-to-server message. The concrete types are Join,
// DirectMessageSend, MessageRequest, PostSend and BioSend.
type Request interface {
	// wire returns the JSON object sent for this request.
	wire() any
}

// Join authenticates a user and asks the server for a token.
type Join struct {
	Username string
	Password string
}

// DirectMessageSend delivers Entry to Recipient.
type DirectMessageSend struct {
	Token     string
	Entry     string
	Recipient string
	Timestamp string
}

// MessageRequest asks for the user's new or all messages.
type MessageRequest struct {
	Token string
	Kind  RetrieveKind
}

// PostSend publishes a post on the user's journal.
type PostSend struct {
	Token     string
	Entry     string
	Timestamp string
}

// BioSend replaces the user's bio.
type BioSend struct {
	Token     string
	Entry     string
	Timestamp string
}

type joinBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type entryBody struct {
	Entry     string `json:"entry"`
	Timestamp string `json:"timestamp"`
}

// messageBody always carries the recipient key, even when it is empty.
type messageBody struct {
	Entry     string `json:"entry"`
	Recipient string `json:"recipient"`
	Timestamp string `json:"timestamp"`
}

func (r Join) wire() any {
	return struct {
		Join joinBody `json:"join"`
	}{joinBody{Username: r.Username, Password: r.Password}}
}

func (r DirectMessageSend) wire() any {
	return struct {
		Token         string      `json:"token"`
		DirectMessage messageBody `json:"directmessage"`
	}{r.Token, messageBody{Entry: r.Entry, Recipient: r.Recipient, Timestamp: r.Timestamp}}
}

func (r MessageRequest) wire() any {
	return struct {
		Token         string       `json:"token"`
		DirectMessage RetrieveKind `json:"directmessage"`
	}{r.Token, r.Kind}
}

func (r PostSend) wire() any {
	return struct {
		Token string    `json:"token"`
		Post  entryBody `json:"post"`
	}{r.Token, entryBody{Entry: r.Entry, Timestamp: r.Timestamp}}
}

func (r BioSend) wire() any {
	return struct {
		Token string    `json:"token"`
		Bio   entryBody `json:"bio"`
	}{r.Token, entryBody{Entry: r.Entry, Timestamp: r.Timestamp}}
}

// Encode serializes a request as a single JSON object terminated by "\r\n".
func Encode(req Request) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req.wire()); err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	// json.Encoder terminates with '\n'; the server expects "\r\n".
	line := bytes.TrimRight(buf.Bytes(), "\n")
	return append(line, lineTerminator...), nil
}

// EncodeJoin returns the join line for the given credentials. The token field
// is always present and always empty.
func EncodeJoin(username, password string) ([]byte, error) {
	return Encode(Join{Username: username, Password: password})
}

// EncodeDirectMessage returns the line sending body to recipient.
func EncodeDirectMessage(token, body, recipient, timestamp string) ([]byte, error) {
	return Encode(DirectMessageSend{Token: token, Entry: body, Recipient: recipient, Timestamp: timestamp})
}

// EncodeMessageRequest returns the line requesting new or all messages.
func EncodeMessageRequest(token string, kind RetrieveKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, errors.Errorf("invalid message request kind %q", kind)
	}
	return Encode(MessageRequest{Token: token, Kind: kind})
}

// DecodeRequest parses a request line as written by Encode. The variant is
// chosen by which top-level key is present.
func DecodeRequest(line []byte) (Request, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(line), &obj); err != nil {
		return nil, decodeError("malformed request", err)
	}

	var token string
	if raw, ok := obj[keyToken]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return nil, decodeError("malformed token", err)
		}
	}

	if raw, ok := obj[keyJoin]; ok {
		var body joinBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, decodeError("malformed join", err)
		}
		return Join{Username: body.Username, Password: body.Password}, nil
	}

	if raw, ok := obj[keyDirectMessage]; ok {
		// A string selects messages to retrieve, an object carries a message to send.
		var kind RetrieveKind
		if err := json.Unmarshal(raw, &kind); err == nil {
			if !kind.Valid() {
				return nil, decodeError("invalid message request kind "+strconv.Quote(string(kind)), nil)
			}
			return MessageRequest{Token: token, Kind: kind}, nil
		}

		var body messageBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, decodeError("malformed directmessage", err)
		}
		return DirectMessageSend{Token: token, Entry: body.Entry, Recipient: body.Recipient, Timestamp: body.Timestamp}, nil
	}

	if raw, ok := obj[keyPost]; ok {
		var body entryBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, decodeError("malformed post", err)
		}
		return PostSend{Token: token, Entry: body.Entry, Timestamp: body.Timestamp}, nil
	}

	if raw, ok := obj[keyBio]; ok {
		var body entryBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, decodeError("malformed bio", err)
		}
		return BioSend{Token: token, Entry: body.Entry, Timestamp: body.Timestamp}, nil
	}

	return nil, decodeError("unknown request", nil)
}

// Envelope is the decoded "response" object of a server reply.
type Envelope struct {
	Type    string
	Message string
	// Token is only set on ok replies that carry one, i.e. join replies.
	Token string
}

// OK reports whether the server accepted the request.
func (e Envelope) OK() bool {
	return e.Type == TypeOK
}

// Response is the full wire form of a server reply. Servers and tests build
// replies with it; clients read them through DecodeEnvelope and DecodeMessageList.
type Response struct {
	Type     string        `json:"type"`
	Message  string        `json:"message"`
	Token    *string       `json:"token,omitempty"`
	Messages []WireMessage `json:"messages,omitempty"`
}

type responseLine struct {
	Response *Response `json:"response"`
}

// EncodeResponse serializes a server reply terminated by "\r\n".
func EncodeResponse(resp Response) ([]byte, error) {
	b, err := json.Marshal(responseLine{Response: &resp})
	if err != nil {
		return nil, errors.Wrap(err, "encode response")
	}
	return append(b, lineTerminator...), nil
}

func decodeResponse(line []byte) (*Response, error) {
	var rl responseLine
	if err := json.Unmarshal(bytes.TrimSpace(line), &rl); err != nil {
		return nil, decodeError("malformed response", err)
	}
	if rl.Response == nil {
		return nil, decodeError("missing response object", nil)
	}
	return rl.Response, nil
}

// DecodeEnvelope parses a reply line. It fails with a Decode error when the
// line is not JSON or has no "response" object.
func DecodeEnvelope(line []byte) (Envelope, error) {
	resp, err := decodeResponse(line)
	if err != nil {
		return Envelope{}, err
	}
	return resp.envelope(), nil
}

func (r *Response) envelope() Envelope {
	env := Envelope{Type: r.Type, Message: r.Message}
	if r.Type == TypeOK && r.Token != nil {
		env.Token = *r.Token
	}
	return env
}

// DecodeMessageList returns the messages of an ok reply in wire order. Error
// replies, replies without messages and undecodable lines all yield an empty
// slice.
func DecodeMessageList(line []byte) []WireMessage {
	resp, err := decodeResponse(line)
	if err != nil {
		return []WireMessage{}
	}
	return resp.messageList()
}

// messageList returns the messages of an ok reply, or an empty slice.
func (r *Response) messageList() []WireMessage {
	if r.Type != TypeOK || r.Messages == nil {
		return []WireMessage{}
	}
	return r.Messages
}
