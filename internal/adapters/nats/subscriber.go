package natsadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// RawPublisher delivers an encoded channel event to local sessions.
type RawPublisher interface {
	PublishRaw(channel string, payload []byte) int
}

// Relay copies channel events from NATS into the local hub.
type Relay struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewRelay subscribes conn to every channel subject and forwards each
// message to hub. The subscription is not durable; an instance only relays
// what is published while it is connected.
func NewRelay(conn *nats.Conn, hub RawPublisher) (*Relay, error) {
	sub, err := conn.Subscribe(channelSubjectAll, func(msg *nats.Msg) {
		var env struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(msg.Data, &env); err != nil || env.Channel == "" {
			slog.Warn("dropping malformed channel event", "subject", msg.Subject, "error", err)
			return
		}
		hub.PublishRaw(env.Channel, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channelSubjectAll, err)
	}
	return &Relay{conn: conn, sub: sub}, nil
}

// Close unsubscribes the relay. The connection is left open.
func (r *Relay) Close() {
	_ = r.sub.Unsubscribe()
}
