package server

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Relay forwards a live push to other replicas when the recipient is not
// connected here.
type Relay interface {
	Publish(ctx context.Context, msg chat.Message) error
}

// Router pushes persisted messages to their recipient's live connection.
// Delivery is at most once: no queueing and no retry.
type Router struct {
	hub   *Hub
	relay Relay
	log   *slog.Logger
}

// NewRouter creates a Router. relay may be nil.
func NewRouter(hub *Hub, relay Relay, log *slog.Logger) *Router {
	return &Router{hub: hub, relay: relay, log: log.With("component", "router")}
}

// Deliver pushes msg to its recipient if they are online on this replica and
// reports whether it was pushed. Self-addressed messages are never echoed.
func (r *Router) Deliver(ctx context.Context, msg chat.Message) bool {
	result := r.push(msg)
	if result == resultOffline && r.relay != nil {
		if err := r.relay.Publish(ctx, msg); err != nil {
			r.log.Warn("Relay publish failed", "message_id", msg.ID, "error", err)
		} else {
			result = resultRelayed
		}
	}
	r.record(ctx, msg, result)
	return result == resultPushed
}

// DeliverLocal is Deliver without the relay, for pushes that arrived from
// another replica.
func (r *Router) DeliverLocal(ctx context.Context, msg chat.Message) bool {
	result := r.push(msg)
	r.record(ctx, msg, result)
	return result == resultPushed
}

func (r *Router) push(msg chat.Message) string {
	if msg.SenderID == msg.ReceiverID {
		return resultSelf
	}

	client := r.hub.Lookup(msg.ReceiverID)
	if client == nil || client.Closed() {
		return resultOffline
	}

	frame, err := chat.NewMessageEvent(msg)
	if err != nil {
		r.log.Error("Failed to encode message event", "message_id", msg.ID, "error", err)
		return resultDropped
	}
	if !client.enqueue(frame) {
		r.hub.evict(client)
		return resultDropped
	}
	return resultPushed
}

func (r *Router) record(ctx context.Context, msg chat.Message, result string) {
	r.hub.metrics.deliveries.Add(ctx, 1, resultAttr(result))
	r.log.Debug("Delivery", "message_id", msg.ID, "receiver_id", msg.ReceiverID, "result", result)
}
