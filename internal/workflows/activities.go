package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
)

// DelayActivities holds the activity implementations for the delay
// notification workflow.
type DelayActivities struct {
	Trips     ports.TripRepository
	Publisher ports.ChannelPublisher
}

// LookupBookedUsers returns the passengers booked on a trip.
func (a *DelayActivities) LookupBookedUsers(ctx context.Context, tripID string) ([]string, error) {
	users, err := a.Trips.BookedUserIDs(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("booked users for trip %s: %w", tripID, err)
	}
	return users, nil
}

// PublishTripDelay publishes the delay on the trip channel.
func (a *DelayActivities) PublishTripDelay(ctx context.Context, n domain.DelayNotification) error {
	return a.publish(ctx, domain.TripChannel(n.TripID), n)
}

// PublishUserDelay publishes the delay on one passenger's channel.
func (a *DelayActivities) PublishUserDelay(ctx context.Context, userID string, n domain.DelayNotification) error {
	return a.publish(ctx, domain.UserChannel(userID), n)
}

func (a *DelayActivities) publish(ctx context.Context, channel string, n domain.DelayNotification) error {
	err := a.Publisher.Publish(ctx, channel, domain.ChannelEvent{
		Type: domain.EventDelayNotification,
		Data: n,
	})
	if err != nil {
		return fmt.Errorf("publish delay to %s: %w", channel, err)
	}
	slog.Debug("delay published", "channel", channel, "trip_id", n.TripID, "delay_minutes", n.DelayMinutes)
	return nil
}
