package tasks

import (
	"context"
	"fmt"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/logger"
)

type NotifyActivityTask struct {
	Task
	items    []database.Item
	notifier ActivityNotifier
}

func NewNotifyActivityTask(streamID string, items []database.Item, notifier ActivityNotifier) *NotifyActivityTask {
	// Items are already committed. A failed delivery is logged, never replayed.
	return &NotifyActivityTask{
		Task:     NewTask(TaskTypeNotifyActivity, streamID, NoRetries),
		items:    items,
		notifier: notifier,
	}
}

func (t *NotifyActivityTask) Execute(ctx context.Context) error {
	if err := t.notifier.Notify(ctx, t.StreamID, t.items); err != nil {
		return fmt.Errorf("failed to notify activity: %w", err)
	}

	logger.Info("Task completed",
		"type", string(t.Type),
		"stream", t.StreamID,
		"items", len(t.items),
		"duration", t.GetDuration())

	return nil
}
