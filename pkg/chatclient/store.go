package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/samber/lo"
)

// State is what a conversation view renders.
type State struct {
	SelectedPeer      chat.Identity
	Messages          []chat.Message
	IsMessagesLoading bool
	IsSendingMessage  bool
	OnlineUsers       []chat.Identity
	Users             []chat.User
	IsUsersLoading    bool
}

// ConversationStore holds the view of the conversation with the selected
// peer. Sends are not optimistic: a message shows up only once the server
// has persisted it. Every mutation happens under one lock and observers read
// copies through Snapshot.
type ConversationStore struct {
	api  API
	live Live
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	shown   chat.Identity       // peer whose history state.Messages holds
	pending []chat.Message      // arrived while the current fetch is in flight
	deleted map[string]struct{} // deleted while a fetch is in flight
	detach  func()
	onError func(error)

	stopPresence func()
	fetches      sync.WaitGroup
}

// NewConversationStore creates a store. live may be nil when no live
// channel is available; the view then only changes through the API.
func NewConversationStore(api API, live Live, log *slog.Logger) *ConversationStore {
	s := &ConversationStore{
		api:     api,
		live:    live,
		log:     log.With("component", "conversation-store"),
		deleted: make(map[string]struct{}),
	}
	if live != nil {
		s.stopPresence = live.OnPresence(s.setOnline)
	}
	return s
}

// OnError registers the callback for failures that happen asynchronously.
func (s *ConversationStore) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Snapshot returns a copy of the current state.
func (s *ConversationStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Messages = slices.Clone(s.state.Messages)
	st.OnlineUsers = slices.Clone(s.state.OnlineUsers)
	st.Users = slices.Clone(s.state.Users)
	return st
}

// SelectPeer switches the view to peer and loads its history in the
// background. The previous messages stay visible until the fetch lands; a
// fetch that completes after another selection is discarded.
func (s *ConversationStore) SelectPeer(ctx context.Context, peer chat.Identity) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state.SelectedPeer = peer
	s.state.IsMessagesLoading = true
	s.pending = nil
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	if s.live != nil {
		s.detach = s.live.Subscribe(s.ReceiveLivePush)
	}
	s.mu.Unlock()

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		messages, err := s.api.FetchHistory(ctx, peer)
		s.applyHistory(gen, peer, messages, err)
	}()
}

func (s *ConversationStore) applyHistory(gen uint64, peer chat.Identity, messages []chat.Message, err error) {
	s.mu.Lock()
	if gen != s.gen || peer != s.state.SelectedPeer {
		s.mu.Unlock()
		s.log.Debug("Discarding stale history", "peer_id", peer)
		return
	}

	s.state.IsMessagesLoading = false
	s.shown = peer
	if err != nil {
		s.state.Messages = nil
		s.pending = nil
		clear(s.deleted)
		onError := s.onError
		s.mu.Unlock()
		s.log.Warn("History fetch failed", "peer_id", peer, "error", err)
		if onError != nil {
			onError(err)
		}
		return
	}

	// Deletes and live arrivals that raced the fetch win over its result.
	merged := lo.Reject(messages, func(m chat.Message, _ int) bool {
		_, gone := s.deleted[m.ID]
		return gone
	})
	for _, m := range s.pending {
		if (m.SenderID == peer || m.ReceiverID == peer) && !containsID(merged, m.ID) {
			merged = append(merged, m)
		}
	}
	s.state.Messages = merged
	s.pending = nil
	clear(s.deleted)
	s.mu.Unlock()
}

// ReceiveLivePush appends msg if it comes from the selected peer and is not
// already shown. Calling it twice with the same message is harmless.
func (s *ConversationStore) ReceiveLivePush(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.SenderID != s.state.SelectedPeer || s.state.SelectedPeer == "" {
		return
	}
	s.appendLocked(msg)
}

// appendLocked shows msg right away only when the visible history is the
// selected peer's. While that history loads, msg waits in pending.
func (s *ConversationStore) appendLocked(msg chat.Message) {
	if s.state.IsMessagesLoading && !containsID(s.pending, msg.ID) {
		s.pending = append(s.pending, msg)
	}
	if s.shown != s.state.SelectedPeer || containsID(s.state.Messages, msg.ID) {
		return
	}
	s.state.Messages = append(s.state.Messages, msg)
}

// Send persists payload to the selected peer. On failure the view is
// unchanged and the error wraps chat.ErrSendFailure, so retrying is just
// calling Send again.
func (s *ConversationStore) Send(ctx context.Context, payload chat.Payload) (chat.Message, error) {
	if err := payload.Validate(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrSendFailure, err)
	}

	s.mu.Lock()
	peer := s.state.SelectedPeer
	if peer == "" {
		s.mu.Unlock()
		return chat.Message{}, fmt.Errorf("%w: no conversation selected", chat.ErrSendFailure)
	}
	s.state.IsSendingMessage = true
	s.mu.Unlock()

	msg, err := s.api.Send(ctx, peer, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsSendingMessage = false
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrSendFailure, err)
	}
	if s.state.SelectedPeer == msg.ReceiverID {
		s.appendLocked(msg)
	}
	return msg, nil
}

// Delete removes a message remotely, then locally. If the server does not
// know the id the view is left alone and chat.ErrNotFound is returned.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	if err := s.api.Delete(ctx, id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("%w: message %s", chat.ErrNotFound, id)
		}
		return fmt.Errorf("delete message %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Messages = lo.Reject(s.state.Messages, func(m chat.Message, _ int) bool { return m.ID == id })
	s.pending = lo.Reject(s.pending, func(m chat.Message, _ int) bool { return m.ID == id })
	if s.state.IsMessagesLoading {
		s.deleted[id] = struct{}{}
	}
	return nil
}

// LoadUsers refreshes the list of people one can talk to.
func (s *ConversationStore) LoadUsers(ctx context.Context) error {
	s.mu.Lock()
	s.state.IsUsersLoading = true
	s.mu.Unlock()

	users, err := s.api.ListUsers(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsUsersLoading = false
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	s.state.Users = users
	return nil
}

func (s *ConversationStore) setOnline(ids []chat.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.OnlineUsers = slices.Clone(ids)
}

// Wait blocks until every history fetch started so far has completed.
func (s *ConversationStore) Wait() {
	s.fetches.Wait()
}

// Close detaches the store from the live channel.
func (s *ConversationStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	if s.stopPresence != nil {
		s.stopPresence()
		s.stopPresence = nil
	}
}

func containsID(messages []chat.Message, id string) bool {
	return lo.ContainsBy(messages, func(m chat.Message) bool { return m.ID == id })
}
