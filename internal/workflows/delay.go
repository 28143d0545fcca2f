package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// DelayNotificationResult summarises a fan-out.
type DelayNotificationResult struct {
	Notified []string
	Failed   []string
}

// DelayNotificationWorkflow publishes a delay on the trip channel, then once
// to each booked passenger. A passenger whose publish keeps failing after
// retries is reported in Failed and does not fail the workflow.
func DelayNotificationWorkflow(ctx workflow.Context, n domain.DelayNotification) (DelayNotificationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting delay notification workflow", "tripID", n.TripID, "delayMinutes", n.DelayMinutes)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var result DelayNotificationResult

	// Step 1: trip channel
	if err := workflow.ExecuteActivity(ctx, "PublishTripDelay", n).Get(ctx, nil); err != nil {
		return result, err
	}

	// Step 2: who is booked
	var users []string
	if err := workflow.ExecuteActivity(ctx, "LookupBookedUsers", n.TripID).Get(ctx, &users); err != nil {
		return result, err
	}

	// Step 3: one publish per passenger, in parallel
	futures := make([]workflow.Future, len(users))
	for i, userID := range users {
		futures[i] = workflow.ExecuteActivity(ctx, "PublishUserDelay", userID, n)
	}
	for i, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			logger.Warn("user delay publish failed", "userID", users[i], "error", err)
			result.Failed = append(result.Failed, users[i])
			continue
		}
		result.Notified = append(result.Notified, users[i])
	}

	logger.Info("Delay notification finished", "notified", len(result.Notified), "failed", len(result.Failed))
	return result, nil
}
