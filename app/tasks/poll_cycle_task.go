package tasks

import (
	"context"

	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/poller"
)

type PollCycleTask struct {
	Task
	runner  poller.CycleRunner
	started func()
}

// NewPollCycleTask wraps one poll cycle. started runs before the cycle so the cycle
// can queue its successor.
func NewPollCycleTask(runner poller.CycleRunner, started func()) *PollCycleTask {
	// The scheduler tick restarts a failed loop.
	return &PollCycleTask{
		Task:    NewTask(TaskTypePollCycle, "", NoRetries),
		runner:  runner,
		started: started,
	}
}

func (t *PollCycleTask) Execute(ctx context.Context) error {
	if t.started != nil {
		t.started()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.runner.RunCycle(ctx)
	if err != nil {
		return err
	}

	t.StreamID = result.StreamID

	logger.Debug("Task completed",
		"type", string(t.Type),
		"outcome", string(result.Outcome),
		"stream", result.StreamID,
		"new", result.NewItems,
		"duration", t.GetDuration())

	return nil
}
