package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/stretchr/testify/require"
)

type recordingRelay struct {
	mu        sync.Mutex
	published []chat.Message
	err       error
}

func (r *recordingRelay) Publish(_ context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, msg)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func persisted(id string, from, to chat.Identity, text string) chat.Message {
	m := chat.NewMessage(from, to, chat.Payload{Text: text})
	m.ID = id
	m.CreatedAt = time.Now().UTC()
	return m
}

func TestRouter_DeliverToOnlineRecipient(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	router := NewRouter(hub, nil, testLogger())

	sender := newHandle(hub, "u1")
	recipient := newHandle(hub, "u2")
	hub.Register("u1", sender)
	hub.Register("u2", recipient)
	nextEvent(t, sender)
	nextEvent(t, sender)
	nextEvent(t, recipient)

	msg := persisted("m1", "u1", "u2", "hello")
	req.True(router.Deliver(context.Background(), msg))

	got := messageOf(t, nextEvent(t, recipient))
	req.Equal("m1", got.ID)
	req.Equal("hello", got.Text)
	req.Equal(chat.Identity("u1"), got.SenderID)
	expectNoEvent(t, sender, 50*time.Millisecond)
}

func TestRouter_OfflineRecipientIsSilent(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	router := NewRouter(hub, nil, testLogger())

	req.False(router.Deliver(context.Background(), persisted("m1", "u1", "u2", "hello")))
}

func TestRouter_SelfAddressedIsNotEchoed(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	relay := &recordingRelay{}
	router := NewRouter(hub, relay, testLogger())

	me := newHandle(hub, "u1")
	hub.Register("u1", me)
	nextEvent(t, me)

	req.False(router.Deliver(context.Background(), persisted("m1", "u1", "u1", "note to self")))
	expectNoEvent(t, me, 50*time.Millisecond)
	req.Zero(relay.count())
}

func TestRouter_RelaysWhenNotConnectedHere(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	relay := &recordingRelay{}
	router := NewRouter(hub, relay, testLogger())

	req.False(router.Deliver(context.Background(), persisted("m1", "u1", "u2", "hello")))
	req.Equal(1, relay.count())

	relay.err = errors.New("nats down")
	req.False(router.Deliver(context.Background(), persisted("m2", "u1", "u2", "again")))
	req.Equal(1, relay.count())
}

func TestRouter_DeliverLocalNeverRelays(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	relay := &recordingRelay{}
	router := NewRouter(hub, relay, testLogger())

	req.False(router.DeliverLocal(context.Background(), persisted("m1", "u1", "u2", "hello")))
	req.Zero(relay.count())

	recipient := newHandle(hub, "u2")
	hub.Register("u2", recipient)
	nextEvent(t, recipient)
	req.True(router.DeliverLocal(context.Background(), persisted("m2", "u1", "u2", "hello")))
	req.Equal("m2", messageOf(t, nextEvent(t, recipient)).ID)
}

func TestRouter_OverflowEvictsRecipient(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)
	router := NewRouter(hub, nil, testLogger())

	// The presence event fills the single slot.
	recipient := newHandleWithBuffer(hub, "u2", 1)
	hub.Register("u2", recipient)
	req.Eventually(func() bool { return len(recipient.send) == 1 }, time.Second, 5*time.Millisecond)

	req.False(router.Deliver(context.Background(), persisted("m1", "u1", "u2", "hello")))
	req.True(recipient.Closed())
	req.Nil(hub.Lookup("u2"))
}
