package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payload     any
		wantBody    string
		contentType string
	}{
		{name: "bytes raw", payload: []byte{0x01, 0x02}, wantBody: "\x01\x02", contentType: ContentTypeBinary},
		{name: "string raw", payload: "hello", wantBody: "hello", contentType: ContentTypeText},
		{name: "raw json", payload: json.RawMessage(`{"a":1}`), wantBody: `{"a":1}`, contentType: ContentTypeJSON},
		{name: "object json", payload: map[string]int{"a": 1}, wantBody: `{"a":1}`, contentType: ContentTypeJSON},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			body, ct, err := Encode(tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBody, string(body))
			assert.Equal(t, tc.contentType, ct)
		})
	}

	_, _, err := Encode(func() {})
	require.Error(t, err)
}

func TestRespond(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	req := Message{CorrelationID: "corr-1", ReplyTo: "amq.gen-reply"}
	require.NoError(t, Respond(context.Background(), transport, req, map[string]string{"type": "page"}))

	sent := <-transport.sent
	assert.Equal(t, "amq.gen-reply", sent.destination)
	assert.Equal(t, "corr-1", sent.msg.CorrelationID)
	assert.JSONEq(t, `{"type":"page"}`, string(sent.msg.Body))

	require.NoError(t, Respond(context.Background(), transport, Message{CorrelationID: "corr-2"}, "ignored"))
	assert.Empty(t, transport.sent)
}
