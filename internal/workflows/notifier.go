package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// Notifier hands delay notifications to Temporal. It implements
// ports.DelayNotifier; NotifyDelay returns once the workflow is started.
type Notifier struct {
	client    client.Client
	taskQueue string
}

func NewNotifier(c client.Client, taskQueue string) *Notifier {
	return &Notifier{client: c, taskQueue: taskQueue}
}

func (n *Notifier) NotifyDelay(ctx context.Context, d domain.DelayNotification) error {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("delay-%s-%s", d.TripID, uuid.NewString()),
		TaskQueue: n.taskQueue,
	}
	run, err := n.client.ExecuteWorkflow(ctx, opts, DelayNotificationWorkflow, d)
	if err != nil {
		return fmt.Errorf("start delay workflow: %w", err)
	}
	slog.Info("delay workflow started", "trip_id", d.TripID, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}
