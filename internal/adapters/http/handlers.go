package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/bilbotrack/internal/adapters/gtfsrt"
	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// ---- Simulations ----

type startSimulationRequest struct {
	TripID    string            `json:"trip_id" validate:"required,max=128"`
	RouteID   string            `json:"route_id" validate:"max=128"`
	Waypoints []domain.Waypoint `json:"waypoints" validate:"omitempty,dive"`
	Path      []domain.GeoPoint `json:"path"`
}

// StartSimulationHandler starts simulating a trip, from its stored route or
// from inline waypoints.
func StartSimulationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req startSimulationRequest
		if ok, err := bindJSON(c, &req); !ok {
			return err
		}

		var (
			state domain.SimulationState
			err   error
		)
		if len(req.Waypoints) > 0 {
			state, err = deps.Tracking.StartSimulationWithRoute(req.TripID, req.Waypoints, req.Path)
		} else {
			state, err = deps.Tracking.StartSimulation(c.UserContext(), req.TripID, req.RouteID)
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		LoggerFromCtx(c.UserContext()).Info("simulation started",
			"trip_id", req.TripID, "operator", identityFrom(c).UserID)
		return c.Status(fiber.StatusCreated).JSON(state)
	}
}

// ListSimulationsHandler returns every running simulation.
func ListSimulationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		states := deps.Tracking.ActiveSimulations()
		return c.JSON(fiber.Map{"data": states, "count": len(states)})
	}
}

// GetSimulationHandler returns the state of one trip's simulation.
func GetSimulationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID := c.Params("trip_id")
		if err := authorizeTrip(c, deps, tripID); err != nil {
			return errFromDomain(c, err)
		}
		state, ok := deps.Tracking.SimulationStatus(tripID)
		if !ok {
			return errNotFound(c, "no simulation running for trip "+tripID)
		}
		return c.JSON(state)
	}
}

// StopSimulationHandler stops a trip's simulation. Stopping a trip that is
// not running is not an error.
func StopSimulationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID := c.Params("trip_id")
		stopped := deps.Tracking.StopSimulation(tripID)
		return c.JSON(fiber.Map{"trip_id": tripID, "stopped": stopped})
	}
}

// ---- Locations ----

// ReportLocationHandler accepts a driver's position fix for a trip.
func ReportLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var report domain.LocationReport
		ok, err := bindJSON(c, &report, func() { report.TripID = c.Params("id") })
		if !ok {
			return err
		}

		sample, err := deps.Tracking.ReportLocation(c.UserContext(), identityFrom(c), report)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sample)
	}
}

// LatestLocationHandler returns the newest sample for a trip.
func LatestLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID := c.Params("id")
		if err := authorizeTrip(c, deps, tripID); err != nil {
			return errFromDomain(c, err)
		}

		sample, found, err := deps.Tracking.Positions().Latest(c.UserContext(), tripID)
		if err != nil {
			return errFromDomain(c, err)
		}
		if !found {
			return errNotFound(c, "no location recorded for trip "+tripID)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(sample)
	}
}

// LocationHistoryHandler returns a page of a trip's samples.
// Query: limit, offset, from, to (RFC 3339), order=asc|desc (default desc).
func LocationHistoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID := c.Params("id")
		if err := authorizeTrip(c, deps, tripID); err != nil {
			return errFromDomain(c, err)
		}

		from, to, err := parseWindow(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		order := strings.ToLower(c.Query("order", "desc"))
		if order != "asc" && order != "desc" {
			return errBadRequest(c, "order must be asc or desc")
		}

		positions := deps.Tracking.Positions()
		q := positions.NormalizeHistoryQuery(domain.HistoryQuery{
			Limit:     c.QueryInt("limit", 0),
			Offset:    c.QueryInt("offset", 0),
			From:      from,
			To:        to,
			Ascending: order == "asc",
		})
		samples, total, err := positions.History(c.UserContext(), tripID, q)
		if err != nil {
			return errFromDomain(c, err)
		}
		if samples == nil {
			samples = []domain.LocationSample{}
		}

		pg := Pagination{Offset: q.Offset, Limit: q.Limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: samples, Pagination: pg})
	}
}

// AnalyticsHandler aggregates a trip's samples over an optional window.
func AnalyticsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID := c.Params("id")
		if err := authorizeTrip(c, deps, tripID); err != nil {
			return errFromDomain(c, err)
		}
		from, to, err := parseWindow(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		analytics, err := deps.Tracking.Positions().Analytics(c.UserContext(), tripID, from, to)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(analytics)
	}
}

func parseWindow(c *fiber.Ctx) (from, to *time.Time, err error) {
	parse := func(name string) (*time.Time, error) {
		raw := c.Query(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, name+" must be an RFC 3339 timestamp")
		}
		return &t, nil
	}
	if from, err = parse("from"); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// ---- Notifications ----

type tripStatusRequest struct {
	Status string `json:"status" validate:"required,max=64"`
	Reason string `json:"reason" validate:"max=500"`
}

// TripStatusHandler broadcasts a trip status change.
func TripStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tripStatusRequest
		if ok, err := bindJSON(c, &req); !ok {
			return err
		}
		tripID := c.Params("id")
		if err := deps.Tracking.PublishTripStatus(c.UserContext(), tripID, req.Status, req.Reason); err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(domain.TripStatusUpdate{TripID: tripID, Status: req.Status, Reason: req.Reason})
	}
}

type delayRequest struct {
	DelayMinutes int    `json:"delay_minutes" validate:"required,gt=0,lte=1440"`
	Reason       string `json:"reason" validate:"max=500"`
}

// DelayHandler notifies a trip's channel and its booked passengers of a delay.
func DelayHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req delayRequest
		if ok, err := bindJSON(c, &req); !ok {
			return err
		}
		n := domain.DelayNotification{TripID: c.Params("id"), DelayMinutes: req.DelayMinutes, Reason: req.Reason}
		if err := deps.Delays.NotifyDelay(c.UserContext(), n); err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(n)
	}
}

type notificationRequest struct {
	Type    string `json:"type" validate:"omitempty,oneof=info warning alert booking"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
}

// NotifyUserHandler sends a notification to one user's channel.
func NotifyUserHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req notificationRequest
		if ok, err := bindJSON(c, &req); !ok {
			return err
		}
		n := domain.Notification{Type: req.Type, Title: req.Title, Message: req.Message}
		if err := deps.Tracking.NotifyUser(c.UserContext(), c.Params("id"), n); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

// ---- Feeds ----

// VehiclePositionsFeedHandler serves a GTFS-Realtime VehiclePositions feed of
// running simulations without authentication. trip_id adds comma-separated
// driver-tracked trips; those need a bearer token allowed to read every
// listed trip. format=json returns the JSON mapping instead of protobuf.
func VehiclePositionsFeedHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var extra []string
		if raw := c.Query("trip_id"); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					extra = append(extra, id)
				}
			}
			if len(extra) > 100 {
				return errBadRequest(c, "at most 100 trip ids")
			}
		}

		if len(extra) > 0 {
			who, err := deps.Auth.VerifyIdentity(c.UserContext(), bearerToken(c))
			if err != nil {
				return errUnauthorized(c, "trip_id requires a valid token")
			}
			c.Locals(identityKey, *who)
			for _, tripID := range extra {
				if err := authorizeTrip(c, deps, tripID); err != nil {
					return errFromDomain(c, err)
				}
			}
		}

		feed, err := deps.Feed.Build(c.UserContext(), extra...)
		if err != nil {
			return errFromDomain(c, err)
		}
		asJSON := c.Query("format") == "json"
		data, err := gtfsrt.Marshal(feed, asJSON)
		if err != nil {
			return errInternal(c, "encode feed")
		}

		c.Set("Cache-Control", "no-cache")
		if asJSON {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		} else {
			c.Set(fiber.HeaderContentType, "application/x-protobuf")
		}
		return c.Send(data)
	}
}
