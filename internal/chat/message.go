package chat

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Identity is the authenticated principal owning a connection or a conversation.
type Identity string

func (i Identity) String() string { return string(i) }

// Payload is what a sender submits: text and/or an attachment reference.
type Payload struct {
	Text  string `json:"text,omitempty" validate:"required_without=Image,max=4000"`
	Image string `json:"image,omitempty" validate:"omitempty,url"`
}

// Message is immutable once persisted. ID and CreatedAt are assigned by storage.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   Identity  `json:"senderId"`
	ReceiverID Identity  `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessage builds an unpersisted message from a payload.
func NewMessage(sender, receiver Identity, p Payload) Message {
	return Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       p.Text,
		Image:      p.Image,
	}
}

var validate = validator.New()

// Validate checks that the payload carries text or an attachment reference.
func (p Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return WrapInvalidPayload(err)
	}
	return nil
}
