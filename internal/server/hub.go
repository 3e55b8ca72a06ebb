package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/samber/lo"
)

type registration struct {
	id     chat.Identity
	client *Client
	reply  chan *Client
}

type deregistration struct {
	id     chat.Identity
	client *Client
	reply  chan bool
}

// Hub is the connection registry: at most one Client per identity. Every
// mutation goes through the Run loop, so mutations are applied one at a
// time in arrival order and each is followed by a presence broadcast.
// Lookups take the read lock and never wait on the loop.
type Hub struct {
	clients    map[chat.Identity]*Client
	register   chan registration
	unregister chan deregistration
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
	metrics    metrics
}

// NewHub creates a Hub. Run must be started before connections register.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[chat.Identity]*Client),
		register:   make(chan registration),
		unregister: make(chan deregistration),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
		metrics:    newMetrics(),
	}
}

// Register installs client as the connection for id and returns the client
// it superseded, if any. The caller owns closing the superseded client. Once
// the hub has stopped, client is closed along with its connection.
func (h *Hub) Register(id chat.Identity, client *Client) *Client {
	if id == "" || client == nil {
		h.log.Warn("Ignoring invalid registration", "user_id", id)
		return nil
	}

	req := registration{id: id, client: client, reply: make(chan *Client, 1)}
	select {
	case h.register <- req:
	case <-h.ctx.Done():
		h.log.Debug("Hub stopped; closing late registration", "user_id", id)
		client.close()
		client.closeConn()
		return nil
	}
	return <-req.reply
}

// Deregister removes the mapping for id only if client is the one currently
// registered. It reports whether anything was removed.
func (h *Hub) Deregister(id chat.Identity, client *Client) bool {
	if id == "" || client == nil {
		return false
	}

	req := deregistration{id: id, client: client, reply: make(chan bool, 1)}
	select {
	case h.unregister <- req:
	case <-h.ctx.Done():
		return false
	}
	return <-req.reply
}

// Lookup returns the client registered for id, or nil.
func (h *Hub) Lookup(id chat.Identity) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[id]
}

// SnapshotIdentities returns the online set, sorted.
func (h *Hub) SnapshotIdentities() []chat.Identity {
	h.mutex.RLock()
	ids := lo.Keys(h.clients)
	h.mutex.RUnlock()

	slices.Sort(ids)
	return ids
}

// Run starts the hub's event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case req := <-h.register:
			req.reply <- h.handleRegister(req.id, req.client)
			h.broadcastPresence()

		case req := <-h.unregister:
			removed := h.remove(req.id, req.client)
			req.reply <- removed
			if removed {
				h.broadcastPresence()
			}
		}
	}
}

func (h *Hub) handleRegister(id chat.Identity, client *Client) *Client {
	h.mutex.Lock()
	previous := h.clients[id]
	if previous == client {
		h.mutex.Unlock()
		return nil
	}
	h.clients[id] = client
	count := len(h.clients)
	h.mutex.Unlock()

	h.metrics.registrations.Add(h.ctx, 1)
	if previous == nil {
		h.metrics.online.Add(h.ctx, 1)
	}
	h.log.Info("Client registered", "user_id", id, "addr", client.addr, "superseded", previous != nil, "total", count)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}
	return previous
}

// remove deletes id's mapping if it still points at client. Loop only.
func (h *Hub) remove(id chat.Identity, client *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[id]
	if !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, id)
	count := len(h.clients)
	h.mutex.Unlock()

	h.metrics.online.Add(h.ctx, -1)
	h.log.Info("Client unregistered", "user_id", id, "addr", client.addr, "total", count)
	return true
}

// broadcastPresence pushes the online set to every registered client. A
// client whose queue is full is removed and closed, which changes the set,
// so the broadcast repeats until every remaining client accepted it.
func (h *Hub) broadcastPresence() {
	for {
		ids, clients := h.getClientSnapshot()
		payload, err := chat.PresenceEvent(ids)
		if err != nil {
			h.log.Error("Failed to encode presence", "error", err)
			return
		}

		failed := lo.Filter(clients, func(c *Client, _ int) bool {
			return !c.enqueue(payload)
		})
		if len(failed) == 0 {
			h.log.Debug("Presence broadcast", "online", len(ids))
			return
		}
		h.removeFailedClients(failed)
	}
}

// getClientSnapshot copies the registry so pushes happen without the lock.
func (h *Hub) getClientSnapshot() ([]chat.Identity, []*Client) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	ids := make([]chat.Identity, 0, len(h.clients))
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		ids = append(ids, id)
		clients = append(clients, client)
	}
	slices.Sort(ids)
	return ids, clients
}

func (h *Hub) removeFailedClients(failed []*Client) {
	for _, client := range failed {
		if h.remove(client.id, client) {
			h.metrics.evictions.Add(h.ctx, 1)
			h.log.Warn("Client removed due to full send buffer", "user_id", client.id, "addr", client.addr)
		}
		client.close()
	}
}

// evict removes and closes a client whose queue overflowed outside the loop.
func (h *Hub) evict(client *Client) {
	if h.Deregister(client.id, client) {
		h.metrics.evictions.Add(h.ctx, 1)
		h.log.Warn("Client removed due to full send buffer", "user_id", client.id, "addr", client.addr)
	}
	client.close()
}

func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := lo.Values(h.clients)
	h.clients = make(map[chat.Identity]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		client.close()
		client.closeConn()
	}
	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the loop, closes every client and waits for their pumps,
// or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
