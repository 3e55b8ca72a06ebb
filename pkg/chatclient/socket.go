package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Live is the subscription side of the live channel.
type Live interface {
	Subscribe(fn func(chat.Message)) (cancel func())
	OnPresence(fn func([]chat.Identity)) (cancel func())
}

// LiveSocket reads server events from one websocket and fans them out to
// subscribers. Losing the connection only stops the pushes.
type LiveSocket struct {
	conn     *websocket.Conn
	log      *slog.Logger
	mu       sync.Mutex
	messages map[int]func(chat.Message)
	presence map[int]func([]chat.Identity)
	online   []chat.Identity // last presence set, nil until one arrives
	nextID   int
	done     chan struct{}
	err      error
}

var _ Live = (*LiveSocket)(nil)

// Dial opens the live channel. origin must be one the server allows.
func Dial(ctx context.Context, wsURL, token, origin string, log *slog.Logger) (*LiveSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	s := &LiveSocket{
		conn:     conn,
		log:      log.With("component", "live-socket"),
		messages: make(map[int]func(chat.Message)),
		presence: make(map[int]func([]chat.Identity)),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Subscribe registers fn for every newMessage event.
func (s *LiveSocket) Subscribe(fn func(chat.Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.messages[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.messages, id)
	}
}

// OnPresence registers fn for every online-set event. If a set was already
// received, fn is called with it right away.
func (s *LiveSocket) OnPresence(fn func([]chat.Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.presence[id] = fn
	last := s.online
	s.mu.Unlock()

	if last != nil {
		fn(slices.Clone(last))
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.presence, id)
	}
}

// Done is closed once the connection is gone.
func (s *LiveSocket) Done() <-chan struct{} {
	return s.done
}

// Err returns why the connection ended once Done is closed: nil after a
// normal close, an error wrapping chat.ErrTransport otherwise.
func (s *LiveSocket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *LiveSocket) Close() error {
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *LiveSocket) readLoop() {
	defer close(s.done)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info("Live channel closed", "reason", err)
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = fmt.Errorf("%w: %w", chat.ErrTransport, err)
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *LiveSocket) dispatch(raw []byte) {
	var evt chat.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		s.log.Warn("Ignoring malformed event", "error", err)
		return
	}

	switch evt.Type {
	case chat.EventNewMessage:
		var msg chat.Message
		if err := json.Unmarshal(evt.Data, &msg); err != nil {
			s.log.Warn("Ignoring malformed message event", "error", err)
			return
		}
		for _, fn := range s.messageHandlers() {
			fn(msg)
		}
	case chat.EventOnlineUsers:
		var ids []chat.Identity
		if err := json.Unmarshal(evt.Data, &ids); err != nil {
			s.log.Warn("Ignoring malformed presence event", "error", err)
			return
		}
		if ids == nil {
			ids = []chat.Identity{}
		}
		s.mu.Lock()
		s.online = ids
		s.mu.Unlock()
		for _, fn := range s.presenceHandlers() {
			fn(slices.Clone(ids))
		}
	default:
		s.log.Debug("Ignoring unknown event", "type", evt.Type)
	}
}

// handlers are copied so callbacks run without the lock held.
func (s *LiveSocket) messageHandlers() []func(chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Values(s.messages)
}

func (s *LiveSocket) presenceHandlers() []func([]chat.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Values(s.presence)
}
