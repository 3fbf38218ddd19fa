package dsu

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind uint8

const (
	// KindNetwork is a refused connection or a socket error mid-exchange.
	KindNetwork Kind = iota + 1
	// KindTimeout is a connect, read or write that exceeded its deadline.
	KindTimeout
	// KindDecode is a reply that is not JSON or has no response object.
	KindDecode
	// KindAuth is an error reply to the join request.
	KindAuth
	// KindSend is an error reply to a direct message.
	KindSend
	// KindRetrieve is an error reply to a message request.
	KindRetrieve
	// KindPublish is an error reply to a post or bio update.
	KindPublish
	// KindInvalid is an argument rejected before any connection is opened.
	KindInvalid
)

var kindNames = map[Kind]string{
	KindNetwork:  "network error",
	KindTimeout:  "timeout",
	KindDecode:   "decode error",
	KindAuth:     "auth error",
	KindSend:     "send error",
	KindRetrieve: "retrieve error",
	KindPublish:  "publish error",
	KindInvalid:  "invalid argument",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown error"
}

// Stage is the step of a call at which a failure was detected.
type Stage uint8

const (
	StageConnect Stage = iota + 1
	StageAuth
	StageSend
	StageRetrieve
	StagePost
	StageBio
)

var stageNames = map[Stage]string{
	StageConnect:  "connect",
	StageAuth:     "auth",
	StageSend:     "send",
	StageRetrieve: "retrieve",
	StagePost:     "post",
	StageBio:      "bio",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// replyKind is the kind of an error reply received at the given stage.
func (s Stage) replyKind() Kind {
	switch s {
	case StageAuth:
		return KindAuth
	case StageSend:
		return KindSend
	case StageRetrieve:
		return KindRetrieve
	case StagePost, StageBio:
		return KindPublish
	default:
		return KindNetwork
	}
}

// Error is the error type returned by every Client operation.
type Error struct {
	Kind  Kind
	Stage Stage
	// Message is the server's own text for error replies, unchanged.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Stage != 0 {
		b.WriteString(" during ")
		b.WriteString(e.Stage.String())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below. A timeout also matches ErrNetwork.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Stage != 0 || t.Message != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindNetwork && e.Kind == KindTimeout
}

// Sentinels for errors.Is.
var (
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrDecode          = &Error{Kind: KindDecode}
	ErrAuth            = &Error{Kind: KindAuth}
	ErrSend            = &Error{Kind: KindSend}
	ErrRetrieve        = &Error{Kind: KindRetrieve}
	ErrPublish         = &Error{Kind: KindPublish}
	ErrInvalidArgument = &Error{Kind: KindInvalid}
)

func decodeError(msg string, err error) *Error {
	return &Error{Kind: KindDecode, Message: msg, Err: err}
}

func invalidArgument(stage Stage, msg string) *Error {
	return &Error{Kind: KindInvalid, Stage: stage, Message: msg}
}

// networkError classifies a transport failure at stage.
func networkError(stage Stage, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// withStage stamps the stage on an error that was detected without one.
func withStage(stage Stage, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Stage == 0 {
		cp := *e
		cp.Stage = stage
		return &cp
	}
	return err
}

// classify turns a decoded reply into the result of the given stage: nil for
// ok replies, an error carrying the server's message otherwise.
func classify(stage Stage, env Envelope) error {
	if env.OK() {
		return nil
	}
	return &Error{Kind: stage.replyKind(), Stage: stage, Message: env.Message}
}
