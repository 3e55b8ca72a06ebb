package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"text only", Payload{Text: "hi"}, false},
		{"image only", Payload{Image: "https://cdn.example.com/a.png"}, false},
		{"text and image", Payload{Text: "look", Image: "https://cdn.example.com/a.png"}, false},
		{"empty", Payload{}, true},
		{"image not a url", Payload{Image: "not a url"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			err := tt.payload.Validate()
			if tt.wantErr {
				req.ErrorIs(err, ErrInvalidPayload)
				return
			}
			req.NoError(err)
		})
	}
}

func TestNewMessageEvent_Shape(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi", CreatedAt: at}

	frame, err := NewMessageEvent(m)
	req.NoError(err)

	var evt Event
	req.NoError(json.Unmarshal(frame, &evt))
	req.Equal(EventNewMessage, evt.Type)

	var got Message
	req.NoError(json.Unmarshal(evt.Data, &got))
	req.Equal(m, got)
}

func TestPresenceEvent_EmptySetIsArray(t *testing.T) {
	req := require.New(t)
	frame, err := PresenceEvent(nil)
	req.NoError(err)
	req.JSONEq(`{"type":"getOnlineUsers","data":[]}`, string(frame))
}
