package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/pshb"
)

type SubscribeTask struct {
	Task
	subscriber Subscriber
}

func NewSubscribeTask(streamID string, subscriber Subscriber) *SubscribeTask {
	return &SubscribeTask{
		Task:       NewTask(TaskTypeSubscribe, streamID, DefaultMaxRetries),
		subscriber: subscriber,
	}
}

func (t *SubscribeTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	hubURL, err := t.subscriber.RequestSubscription(ctx, database.StreamKey(t.StreamID))
	switch {
	case errors.Is(err, pshb.ErrNoHub):
		logger.Info("Stream has no hub, staying poll-only", "stream", t.StreamID)
		return nil
	case errors.Is(err, pshb.ErrStreamNotFound):
		logger.Warn("Stream not found, skipping subscription", "stream", t.StreamID)
		return nil
	case err != nil:
		return fmt.Errorf("failed to request subscription: %w", err)
	}

	logger.Info("Task completed",
		"type", string(t.Type),
		"stream", t.StreamID,
		"hub", hubURL,
		"duration", t.GetDuration())

	return nil
}
