package chat

import "encoding/json"

// EventType names a server-initiated event.
type EventType string

const (
	// EventOnlineUsers carries the full set of online identities.
	EventOnlineUsers EventType = "getOnlineUsers"
	// EventNewMessage carries one persisted message for its recipient.
	EventNewMessage EventType = "newMessage"
)

// Event is the frame written on the live channel.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent marshals data into an Event frame.
func EncodeEvent(t EventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: t, Data: raw})
}

// PresenceEvent builds the frame for an online-set snapshot.
func PresenceEvent(online []Identity) ([]byte, error) {
	if online == nil {
		online = []Identity{}
	}
	return EncodeEvent(EventOnlineUsers, online)
}

// NewMessageEvent builds the frame for a live-pushed message.
func NewMessageEvent(m Message) ([]byte, error) {
	return EncodeEvent(EventNewMessage, m)
}
