package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
)

// Gateway manages client sessions independently of the transport that
// carries them.
type Gateway struct {
	hub       *Hub
	tracking  *TrackingService
	auth      ports.Authenticator
	queueSize int
}

// NewGateway creates a Gateway whose sessions buffer up to queueSize events.
func NewGateway(hub *Hub, tracking *TrackingService, auth ports.Authenticator, queueSize int) *Gateway {
	return &Gateway{hub: hub, tracking: tracking, auth: auth, queueSize: queueSize}
}

// Connect authenticates a token and opens a session for it.
func (g *Gateway) Connect(ctx context.Context, token string) (*GatewaySession, error) {
	who, err := g.auth.VerifyIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.Open(*who), nil
}

// Open creates a session for an already verified identity.
func (g *Gateway) Open(who domain.Identity) *GatewaySession {
	s := &GatewaySession{
		id:       uuid.NewString(),
		identity: who,
		outbox:   NewOutbox(g.queueSize),
		gw:       g,
	}
	slog.Debug("session opened", "session_id", s.id, "user_id", who.UserID, "role", who.Role)
	return s
}

// GatewaySession is one connected client. It implements ports.Session.
type GatewaySession struct {
	id       string
	identity domain.Identity
	outbox   *Outbox
	gw       *Gateway

	closeOnce sync.Once
}

func (s *GatewaySession) ID() string { return s.id }

// Identity returns who the session belongs to.
func (s *GatewaySession) Identity() domain.Identity { return s.identity }

// Deliver queues a payload for the client without blocking.
func (s *GatewaySession) Deliver(payload []byte) bool {
	return s.outbox.Push(payload)
}

// Outbox exposes the queue the transport drains.
func (s *GatewaySession) Outbox() *Outbox { return s.outbox }

// JoinTrip subscribes the session to a trip's channel.
func (s *GatewaySession) JoinTrip(ctx context.Context, tripID string) (string, error) {
	return s.join(ctx, domain.TripChannel(tripID))
}

// LeaveTrip unsubscribes the session from a trip's channel.
func (s *GatewaySession) LeaveTrip(tripID string) string {
	ch := domain.TripChannel(tripID)
	s.gw.hub.Leave(s.id, ch)
	return ch
}

// JoinUser subscribes the session to a user's channel.
func (s *GatewaySession) JoinUser(ctx context.Context, userID string) (string, error) {
	return s.join(ctx, domain.UserChannel(userID))
}

// LeaveUser unsubscribes the session from a user's channel.
func (s *GatewaySession) LeaveUser(userID string) string {
	ch := domain.UserChannel(userID)
	s.gw.hub.Leave(s.id, ch)
	return ch
}

func (s *GatewaySession) join(ctx context.Context, channel string) (string, error) {
	if err := s.gw.tracking.AuthorizeChannel(ctx, s.identity, channel); err != nil {
		return channel, err
	}
	s.gw.hub.Join(s, channel)
	return channel, nil
}

// ReportLocation submits a driver location fix on behalf of the session.
func (s *GatewaySession) ReportLocation(ctx context.Context, report domain.LocationReport) (*domain.LocationSample, error) {
	if report.TripID == "" {
		return nil, fmt.Errorf("trip_id is required: %w", domain.ErrInvalidSample)
	}
	return s.gw.tracking.ReportLocation(ctx, s.identity, report)
}

// Channels lists the channels the session has joined.
func (s *GatewaySession) Channels() []string {
	return s.gw.hub.Channels(s.id)
}

// Close drops every channel membership. Any running simulation is left
// untouched. Safe to call more than once.
func (s *GatewaySession) Close() {
	s.closeOnce.Do(func() {
		n := s.gw.hub.LeaveAll(s.id)
		s.outbox.Close()
		slog.Debug("session closed", "session_id", s.id, "channels_left", n)
	})
}
