package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
)

// wsMessage is sent from client to manage channels or report a location.
//
//	{"action":"join-trip","trip_id":"T1"}
//	{"action":"leave-user","user_id":"U1"}
//	{"action":"report-location","location":{"trip_id":"T1","latitude":43.26,"longitude":-2.93}}
type wsMessage struct {
	Action   string                 `json:"action"`
	TripID   string                 `json:"trip_id,omitempty"`
	UserID   string                 `json:"user_id,omitempty"`
	Location *domain.LocationReport `json:"location,omitempty"`
}

// wsReply acknowledges a client message.
type wsReply struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// WebSocketUpgrade authenticates the caller and only lets WebSocket
// upgrades through.
func WebSocketUpgrade(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		who, err := deps.Auth.VerifyIdentity(c.UserContext(), bearerToken(c))
		if err != nil {
			return errUnauthorized(c, "missing or invalid token")
		}
		c.Locals(identityKey, *who)
		return c.Next()
	}
}

// WebSocketHandler runs one gateway session per connection. Channel events
// queued in the session outbox are written by a single writer goroutine;
// disconnecting drops every membership but never stops a simulation.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	pingInterval := deps.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	return func(c *websocket.Conn) {
		defer c.Close()

		who, _ := c.Locals(identityKey).(domain.Identity)
		sess := deps.Gateway.Open(who)
		defer sess.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		logger := slog.Default().With("session_id", sess.ID(), "user_id", who.UserID)
		logger.Info("ws client connected", "remote", c.RemoteAddr().String())

		var mu sync.Mutex
		write := func(messageType int, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return c.WriteMessage(messageType, data)
		}
		reply := func(r wsReply) {
			data, err := json.Marshal(r)
			if err != nil {
				return
			}
			_ = write(websocket.TextMessage, data)
		}

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sess.Outbox().Ready():
					for _, payload := range sess.Outbox().Drain() {
						if err := write(websocket.TextMessage, payload); err != nil {
							return
						}
					}
				case <-ticker.C:
					if err := write(websocket.PingMessage, nil); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		reply(wsReply{Type: "welcome", Data: fiber.Map{"session_id": sess.ID(), "user_id": who.UserID, "role": who.Role}})

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				reply(wsReply{Type: "error", Error: "invalid JSON", Code: "bad_request"})
				continue
			}
			reply(handleWSMessage(context.Background(), sess, m))
		}

		close(done)
		logger.Info("ws client disconnected", "channels", len(sess.Channels()))
	}
}

// handleWSMessage applies one client message to the session.
func handleWSMessage(ctx context.Context, sess *usecases.GatewaySession, m wsMessage) wsReply {
	switch m.Action {
	case "join-trip":
		if m.TripID == "" {
			return wsReply{Type: "error", Error: "trip_id is required", Code: "bad_request"}
		}
		ch, err := sess.JoinTrip(ctx, m.TripID)
		if err != nil {
			return wsError(err, ch)
		}
		return wsReply{Type: "joined", Channel: ch}

	case "leave-trip":
		return wsReply{Type: "left", Channel: sess.LeaveTrip(m.TripID)}

	case "join-user":
		if m.UserID == "" {
			return wsReply{Type: "error", Error: "user_id is required", Code: "bad_request"}
		}
		ch, err := sess.JoinUser(ctx, m.UserID)
		if err != nil {
			return wsError(err, ch)
		}
		return wsReply{Type: "joined", Channel: ch}

	case "leave-user":
		return wsReply{Type: "left", Channel: sess.LeaveUser(m.UserID)}

	case "report-location":
		if m.Location == nil {
			return wsReply{Type: "error", Error: "location is required", Code: "bad_request"}
		}
		if err := validate.Struct(m.Location); err != nil {
			return wsReply{Type: "error", Error: describeValidation(err), Code: "unprocessable"}
		}
		sample, err := sess.ReportLocation(ctx, *m.Location)
		if err != nil {
			return wsError(err, domain.TripChannel(m.Location.TripID))
		}
		return wsReply{Type: "location-accepted", Channel: domain.TripChannel(sample.TripID), Data: sample}

	case "ping":
		return wsReply{Type: "pong"}
	}
	return wsReply{Type: "error", Error: "unknown action: " + m.Action, Code: "bad_request"}
}

func wsError(err error, channel string) wsReply {
	r := wsReply{Type: "error", Channel: channel, Error: err.Error()}
	switch {
	case errors.Is(err, domain.ErrForbidden):
		r.Code = "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		r.Code = "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		r.Code = "conflict"
	case errors.Is(err, domain.ErrInvalidSample):
		r.Code = "unprocessable"
	default:
		r.Code = "internal_error"
		r.Error = "internal error"
		slog.Error("ws action failed", "channel", channel, "error", err)
	}
	return r
}
