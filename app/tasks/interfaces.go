package tasks

import (
	"context"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/poller"
)

// TaskSchedulerInterface is the background queue used by main and by tasks that
// schedule follow-up work.
//
//	scheduler := NewScheduler(seedCache, streamRepo, activityNotifier, opts)
//	scheduler.SetPoller(p)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

type Waker interface {
	Wake(ctx context.Context) (poller.WakeResult, error)
}

type Subscriber interface {
	RequestSubscription(ctx context.Context, key string) (string, error)
}

type ActivityNotifier interface {
	Notify(ctx context.Context, streamID string, items []database.Item) error
}
