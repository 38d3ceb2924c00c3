package tasks

import (
	"context"
	"fmt"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/logger"
)

type SyncStreamSeedTask struct {
	Task
	seed       *feed.Seed
	streamRepo database.StreamRepository
	scheduler  TaskSchedulerInterface
	subscriber Subscriber
}

func NewSyncStreamSeedTask(seed *feed.Seed, streamRepo database.StreamRepository,
	scheduler TaskSchedulerInterface, subscriber Subscriber) *SyncStreamSeedTask {
	return &SyncStreamSeedTask{
		Task:       NewTask(TaskTypeSyncStreamSeed, seed.StreamID, DefaultMaxRetries),
		seed:       seed,
		streamRepo: streamRepo,
		scheduler:  scheduler,
		subscriber: subscriber,
	}
}

func (t *SyncStreamSeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := database.StreamKey(t.seed.StreamID)
	existing, err := t.streamRepo.GetStream(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}

	subscribed := false
	switch {
	case existing == nil:
		stream := &database.Stream{
			StreamID: t.seed.StreamID,
			Title:    t.seed.Title,
			URL:      t.seed.URL,
			Format:   t.seed.Format,
		}
		if err := t.streamRepo.CreateStream(ctx, stream); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}

	case existing.Deleted:
		logger.Warn("Seed refers to a deleted stream, skipping", "stream", t.seed.StreamID)
		return nil

	default:
		subscribed = existing.IsSubscribed
		urlChanged, err := t.streamRepo.UpdateStream(ctx, key, database.StreamChanges{
			Title:  t.seed.Title,
			URL:    t.seed.URL,
			Format: t.seed.Format,
		})
		if err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		if urlChanged {
			logger.Info("Stream URL changed, queued for immediate poll", "stream", t.seed.StreamID)
			subscribed = false
		}
	}

	if t.seed.Subscribe && !subscribed && t.subscriber != nil && t.scheduler != nil {
		if err := t.scheduler.EnqueueTask(NewSubscribeTask(t.seed.StreamID, t.subscriber)); err != nil {
			logger.Warn("Failed to enqueue SubscribeTask", "stream", t.seed.StreamID, "error", err)
		}
	}

	logger.Info("Task completed",
		"type", string(t.Type),
		"stream", t.seed.StreamID,
		"duration", t.GetDuration())

	return nil
}
