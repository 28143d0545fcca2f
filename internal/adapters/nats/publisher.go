package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

const (
	channelSubjectPrefix = "bilbotrack.channels."
	channelSubjectAll    = channelSubjectPrefix + ">"
	channelStream        = "TRACKING_CHANNELS"
)

// Publisher implements ports.ChannelPublisher over NATS so every API
// instance's Relay sees every channel event.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS and makes sure the replay stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Short-lived history of channel events for debugging and late readers.
	cfg := &nats.StreamConfig{
		Name:      channelStream,
		Subjects:  []string{channelSubjectAll},
		Retention: nats.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.MemoryStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn}, nil
}

// Publish sends a channel event. Delivery to sessions happens in each
// instance's Relay.
func (p *Publisher) Publish(_ context.Context, channel string, event domain.ChannelEvent) error {
	event.Channel = channel
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return p.conn.Publish(ChannelSubject(channel), data)
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// ChannelSubject maps a channel name to its NATS subject.
func ChannelSubject(channel string) string {
	return channelSubjectPrefix + subjectToken(channel)
}

// subjectToken makes s safe to use as a single NATS subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("bilbotrack"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// RawConn creates a plain NATS connection for subscribing.
func RawConn(url string) (*nats.Conn, error) {
	return connect(url)
}
