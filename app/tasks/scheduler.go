package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/metrics"
	"github.com/lysyi3m/rss-streams/app/poller"
)

var (
	_ TaskSchedulerInterface = (*Scheduler)(nil)
	_ poller.Rearmer         = (*Scheduler)(nil)
)

const queueSize = 300

type Options struct {
	Interval    time.Duration
	WorkerCount int
	TaskTimeout time.Duration
}

// Scheduler runs tasks on a fixed worker pool and wakes the poller on every tick.
// It also delivers activity notifications asynchronously for the ingest gateway.
type Scheduler struct {
	seedCache   *feed.SeedCache
	streamRepo  database.StreamRepository
	notifier    ActivityNotifier
	waker       Waker
	subscriber  Subscriber
	interval    time.Duration
	workerCount int
	taskTimeout time.Duration
	pollPending atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(seedCache *feed.SeedCache, streamRepo database.StreamRepository,
	notifier ActivityNotifier, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}

	return &Scheduler{
		seedCache:   seedCache,
		streamRepo:  streamRepo,
		notifier:    notifier,
		interval:    opts.Interval,
		workerCount: opts.WorkerCount,
		taskTimeout: opts.TaskTimeout,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, queueSize),
	}
}

func (s *Scheduler) SetPoller(waker Waker) {
	s.waker = waker
}

func (s *Scheduler) SetSubscriber(subscriber Subscriber) {
	s.subscriber = subscriber
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.enqueueStartupTasks()

		if s.interval <= 0 {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.wake()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueuePollCycle queues the next poll cycle. A cycle that is already queued
// absorbs the request.
func (s *Scheduler) EnqueuePollCycle(runner poller.CycleRunner) error {
	if !s.pollPending.CompareAndSwap(false, true) {
		logger.Debug("Poll cycle already queued")
		return nil
	}

	task := NewPollCycleTask(runner, func() { s.pollPending.Store(false) })
	if err := s.EnqueueTask(task); err != nil {
		s.pollPending.Store(false)
		return err
	}

	return nil
}

// Notify hands new items to a worker so ingestion never waits on the activity sink.
func (s *Scheduler) Notify(ctx context.Context, streamID string, items []database.Item) error {
	if s.notifier == nil || len(items) == 0 {
		return nil
	}
	return s.EnqueueTask(NewNotifyActivityTask(streamID, items, s.notifier))
}

func (s *Scheduler) enqueueStartupTasks() {
	var seeds []*feed.Seed
	if s.seedCache != nil {
		seeds = s.seedCache.GetSeeds()
	}

	if len(seeds) == 0 {
		logger.Debug("No stream seeds found")
	} else {
		logger.Debug("Processing stream seeds", "count", len(seeds))
	}

	for _, seed := range seeds {
		syncTask := NewSyncStreamSeedTask(seed, s.streamRepo, s, s.subscriber)
		if err := s.EnqueueTask(syncTask); err != nil {
			logger.Warn("Failed to enqueue SyncStreamSeedTask", "stream", seed.StreamID, "error", err)
		}
	}

	s.wake()
}

func (s *Scheduler) wake() {
	if s.waker == nil {
		return
	}

	result, err := s.waker.Wake(s.ctx)
	if err != nil {
		logger.Warn("Failed to wake feed poller", "error", err)
		return
	}

	logger.Debug("Scheduler tick", "result", string(result))
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()
	logger.Debug("Task started", append(task.LogFields(), "worker_id", workerID, "queue_wait", task.QueueWait().String())...)

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		metrics.TasksTotal.WithLabelValues(string(task.GetType()), "ok").Inc()
		return
	}

	logger.Error("Worker task execution failed", append(task.LogFields(), "worker_id", workerID, "error", err)...)

	if !task.CanRetry() {
		metrics.TasksTotal.WithLabelValues(string(task.GetType()), "failed").Inc()
		if task.GetMaxRetries() > 0 {
			logger.Error("Task failed after maximum retries", append(task.LogFields(), "last_error", err)...)
		}
		return
	}

	metrics.TasksTotal.WithLabelValues(string(task.GetType()), "retry").Inc()
	task.IncrementRetryCount()
	retryDelay := task.RetryDelay()

	logger.Warn("Task retry scheduled", append(task.LogFields(), "delay", retryDelay.String())...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			logger.Debug("Scheduler stopped, skipping task retry", task.LogFields()...)
		case <-time.After(retryDelay):
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				logger.Error("Failed to re-enqueue task for retry", append(task.LogFields(), "error", retryErr)...)
			}
		}
	}()
}
