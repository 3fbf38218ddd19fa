package dsu

import (
	"bytes"
	"encoding/json"
)

// Direction tells whether a record was sent or received by the local user.
type Direction uint8

const (
	// Outgoing records are messages the local user sent.
	Outgoing Direction = iota + 1
	// Incoming records are messages the local user received.
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// DirectMessageRecord is a retrieved message. Sender holds the other party of
// the conversation: the author of an incoming message, the recipient of an
// outgoing one.
type DirectMessageRecord struct {
	Sender    string
	Body      string
	Timestamp string
	Direction Direction
}

// Counterpart returns the user on the other end of the conversation.
func (r DirectMessageRecord) Counterpart() string {
	return r.Sender
}

// WireMessage is one entry of the "messages" array of a retrieval reply.
// Exactly one of From and Recipient is set.
type WireMessage struct {
	From      *string    `json:"from,omitempty"`
	Recipient *string    `json:"recipient,omitempty"`
	Message   string     `json:"message"`
	Timestamp flexString `json:"timestamp"`
}

// IncomingMessage builds the wire form of a message received from sender.
func IncomingMessage(from, body, timestamp string) WireMessage {
	return WireMessage{From: &from, Message: body, Timestamp: flexString(timestamp)}
}

// OutgoingMessage builds the wire form of a message sent to recipient.
func OutgoingMessage(recipient, body, timestamp string) WireMessage {
	return WireMessage{Recipient: &recipient, Message: body, Timestamp: flexString(timestamp)}
}

// Record maps the wire message to a DirectMessageRecord. The direction is
// inferred from which of "recipient" and "from" is present; a message with
// neither or both is malformed.
func (m WireMessage) Record() (DirectMessageRecord, error) {
	switch {
	case m.Recipient != nil && m.From != nil:
		return DirectMessageRecord{}, decodeError("message has both recipient and from", nil)
	case m.Recipient != nil:
		return DirectMessageRecord{
			Sender:    *m.Recipient,
			Body:      m.Message,
			Timestamp: string(m.Timestamp),
			Direction: Outgoing,
		}, nil
	case m.From != nil:
		return DirectMessageRecord{
			Sender:    *m.From,
			Body:      m.Message,
			Timestamp: string(m.Timestamp),
			Direction: Incoming,
		}, nil
	default:
		return DirectMessageRecord{}, decodeError("message has neither recipient nor from", nil)
	}
}

// flexString is a JSON string that also accepts a number, keeping its literal text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}
