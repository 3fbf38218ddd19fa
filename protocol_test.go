package dsu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJoin(t *testing.T) {
	line, err := EncodeJoin("alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, `{"join":{"username":"alice","password":"secret","token":""}}`+"\r\n", string(line))
}

func TestEncodeDirectMessage(t *testing.T) {
	line, err := EncodeDirectMessage("T1", "hi <3 & bye", "bob", "1700000000.5")
	require.NoError(t, err)
	assert.Equal(t,
		`{"token":"T1","directmessage":{"entry":"hi <3 & bye","recipient":"bob","timestamp":"1700000000.5"}}`+"\r\n",
		string(line))
}

func TestEncodeDirectMessage_EmptyRecipientKept(t *testing.T) {
	line, err := EncodeDirectMessage("T", "hi", "", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"T","directmessage":{"entry":"hi","recipient":"","timestamp":"1"}}`+"\r\n", string(line))
}

func TestEncodeMessageRequest(t *testing.T) {
	for _, kind := range []RetrieveKind{RetrieveNew, RetrieveAll} {
		line, err := EncodeMessageRequest("T1", kind)
		require.NoError(t, err)
		assert.Equal(t, `{"token":"T1","directmessage":"`+string(kind)+`"}`+"\r\n", string(line))
	}

	_, err := EncodeMessageRequest("T1", "unread")
	assert.Error(t, err)
}

func TestEncode_PostAndBio(t *testing.T) {
	line, err := Encode(PostSend{Token: "T1", Entry: "hello world", Timestamp: "1.5"})
	require.NoError(t, err)
	assert.Equal(t, `{"token":"T1","post":{"entry":"hello world","timestamp":"1.5"}}`+"\r\n", string(line))

	line, err = Encode(BioSend{Token: "T1", Entry: "gopher", Timestamp: "2"})
	require.NoError(t, err)
	assert.Equal(t, `{"token":"T1","bio":{"entry":"gopher","timestamp":"2"}}`+"\r\n", string(line))
}

func TestEncode_Nil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestDecodeRequest_RoundTrip(t *testing.T) {
	requests := []Request{
		Join{Username: "alice", Password: "p@ss \"quoted\""},
		DirectMessageSend{Token: "T1", Entry: "multi\nline ünïcode", Recipient: "bob", Timestamp: "1700000000.123"},
		DirectMessageSend{Token: "T1", Entry: "", Recipient: "", Timestamp: ""},
		MessageRequest{Token: "T1", Kind: RetrieveNew},
		MessageRequest{Token: "T2", Kind: RetrieveAll},
		PostSend{Token: "T1", Entry: "post", Timestamp: "3"},
		BioSend{Token: "T1", Entry: "bio", Timestamp: "4"},
	}

	for _, req := range requests {
		line, err := Encode(req)
		require.NoError(t, err)

		got, err := DecodeRequest(line)
		require.NoError(t, err, "line %s", line)
		assert.Equal(t, req, got)
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	lines := []string{
		``,
		`not json`,
		`{}`,
		`{"token":"T1","direct_message":{"entry":"hi","recipient":"bob","timestamp":""}}`,
		`{"token":"T1","directmessage":"unread"}`,
		`{"token":"T1","directmessage":42}`,
		`{"join":"alice"}`,
	}

	for _, line := range lines {
		_, err := DecodeRequest([]byte(line))
		assert.ErrorIs(t, err, ErrDecode, "line %q", line)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"response":{"type":"ok","message":"welcome","token":"T1"}}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Type: TypeOK, Message: "welcome", Token: "T1"}, env)
	assert.True(t, env.OK())

	env, err = DecodeEnvelope([]byte(`{"response":{"type":"ok","message":"sent"}}` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Type: TypeOK, Message: "sent"}, env)
}

func TestDecodeEnvelope_TokenOnlyOnOK(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"response":{"type":"error","message":"bad password","token":"leaked"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "bad password", env.Message)
	assert.Empty(t, env.Token)
	assert.False(t, env.OK())
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	lines := []string{
		``,
		`{`,
		`[]`,
		`"response"`,
		`{"type":"ok","message":"no envelope"}`,
		`{"response":null}`,
		`{"response":"ok"}`,
	}

	for _, line := range lines {
		_, err := DecodeEnvelope([]byte(line))
		require.Error(t, err, "line %q", line)
		assert.ErrorIs(t, err, ErrDecode, "line %q", line)
	}
}

func TestDecodeMessageList(t *testing.T) {
	line := `{"response":{"type":"ok","message":"","messages":[` +
		`{"message":"first","from":"carol","timestamp":"1"},` +
		`{"message":"second","recipient":"dave","timestamp":"2"},` +
		`{"message":"third","from":"carol","timestamp":"3"}]}}`

	msgs := DecodeMessageList([]byte(line))
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, "second", msgs[1].Message)
	assert.Equal(t, "third", msgs[2].Message)
}

func TestDecodeMessageList_ErrorReplyIgnoresMessages(t *testing.T) {
	line := `{"response":{"type":"error","message":"nope","messages":[{"message":"x","from":"carol","timestamp":"1"}]}}`

	msgs := DecodeMessageList([]byte(line))
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestDecodeMessageList_Empty(t *testing.T) {
	lines := []string{
		`{"response":{"type":"ok","message":"nothing"}}`,
		`{"response":{"type":"ok","message":"nothing","messages":[]}}`,
		`{"response":{"type":"ok","message":"nothing","messages":null}}`,
		`not json`,
		`{"response":{"type":"ok","messages":"oops"}}`,
	}

	for _, line := range lines {
		msgs := DecodeMessageList([]byte(line))
		assert.NotNil(t, msgs, "line %q", line)
		assert.Empty(t, msgs, "line %q", line)
	}
}

func TestEncodeResponse(t *testing.T) {
	token := "T9"
	line, err := EncodeResponse(Response{Type: TypeOK, Message: "welcome", Token: &token})
	require.NoError(t, err)
	assert.Equal(t, `{"response":{"type":"ok","message":"welcome","token":"T9"}}`+"\r\n", string(line))

	env, err := DecodeEnvelope(line)
	require.NoError(t, err)
	assert.Equal(t, "T9", env.Token)
}

func TestRetrieveKind_Valid(t *testing.T) {
	assert.True(t, RetrieveNew.Valid())
	assert.True(t, RetrieveAll.Valid())
	assert.False(t, RetrieveKind("").Valid())
	assert.False(t, RetrieveKind("ALL").Valid())
}
