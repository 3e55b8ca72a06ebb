// Package relay carries live pushes between replicas over NATS. A replica
// that cannot find the recipient locally publishes the message on the
// recipient's subject; every other replica hands it to its local router.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix = "livechat.deliver."
	originHeader  = "Livechat-Replica"
)

// Deliverer pushes a message to a locally connected recipient.
type Deliverer interface {
	DeliverLocal(ctx context.Context, msg chat.Message) bool
}

type NATS struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	replica string
	log     *slog.Logger
}

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url string, log *slog.Logger) (*NATS, error) {
	log = log.With("component", "relay")
	nc, err := nats.Connect(url,
		nats.Name("livechat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return New(nc, log), nil
}

func New(nc *nats.Conn, log *slog.Logger) *NATS {
	return &NATS{nc: nc, replica: uuid.NewString(), log: log}
}

// Subject is the delivery subject for an identity. Identities that would
// change the subject's token structure are rejected.
func Subject(id chat.Identity) (string, error) {
	s := id.String()
	if s == "" || strings.ContainsAny(s, ".*> \t\r\n") {
		return "", fmt.Errorf("identity %q cannot be used as a subject token", s)
	}
	return subjectPrefix + s, nil
}

// Publish sends msg to the replicas. It does not wait for anyone to receive it.
func (n *NATS) Publish(_ context.Context, msg chat.Message) error {
	subject, err := Subject(msg.ReceiverID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	out := nats.NewMsg(subject)
	out.Header.Set(originHeader, n.replica)
	out.Data = data
	return n.nc.PublishMsg(out)
}

// Start subscribes to every delivery subject and forwards to d.
func (n *NATS) Start(d Deliverer) error {
	sub, err := n.nc.Subscribe(subjectPrefix+"*", func(m *nats.Msg) {
		n.handle(d, m)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub
	n.log.Info("Relay subscribed", "subject", subjectPrefix+"*", "replica", n.replica)
	return nil
}

func (n *NATS) handle(d Deliverer, m *nats.Msg) {
	if m.Header.Get(originHeader) == n.replica {
		return
	}
	var msg chat.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		n.log.Warn("Dropping malformed relay message", "subject", m.Subject, "error", err)
		return
	}
	if subject, err := Subject(msg.ReceiverID); err != nil || subject != m.Subject {
		n.log.Warn("Dropping relay message for another subject", "subject", m.Subject, "receiver_id", msg.ReceiverID)
		return
	}
	d.DeliverLocal(context.Background(), msg)
}

// Close unsubscribes and drains the connection.
func (n *NATS) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			n.log.Warn("Relay unsubscribe failed", "error", err)
		}
	}
	return n.nc.Drain()
}
