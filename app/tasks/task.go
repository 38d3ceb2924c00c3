package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypePollCycle      TaskType = "poll_cycle"
	TaskTypeNotifyActivity TaskType = "notify_activity"
	TaskTypeSubscribe      TaskType = "subscribe"
	TaskTypeSyncStreamSeed TaskType = "sync_stream_seed"
)

const (
	DefaultMaxRetries = 3
	NoRetries         = 0

	maxRetryDelay = 30 * time.Second
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetStreamID() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	RetryDelay() time.Duration
	LogFields() []interface{}
	Start()
	QueueWait() time.Duration
	GetDuration() time.Duration
}

// Task carries the bookkeeping shared by every task type. StreamID is empty for
// tasks that are not bound to one stream.
type Task struct {
	ID         string
	Type       TaskType
	StreamID   string
	RetryCount int
	MaxRetries int
	EnqueuedAt time.Time
	StartedAt  *time.Time
}

func NewTask(taskType TaskType, streamID string, maxRetries int) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		StreamID:   streamID,
		MaxRetries: max(maxRetries, 0),
		EnqueuedAt: time.Now(),
	}
}

func (t *Task) GetID() string       { return t.ID }
func (t *Task) GetType() TaskType   { return t.Type }
func (t *Task) GetStreamID() string { return t.StreamID }
func (t *Task) GetRetryCount() int  { return t.RetryCount }
func (t *Task) GetMaxRetries() int  { return t.MaxRetries }

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// RetryDelay doubles from one second per attempt already made, capped at 30s.
func (t *Task) RetryDelay() time.Duration {
	if t.RetryCount <= 0 {
		return time.Second
	}
	return min(time.Second<<min(t.RetryCount-1, 5), maxRetryDelay)
}

// LogFields identifies the task in scheduler log lines.
func (t *Task) LogFields() []interface{} {
	fields := []interface{}{"type", string(t.Type), "id", t.ID}
	if t.StreamID != "" {
		fields = append(fields, "stream", t.StreamID)
	}
	if t.RetryCount > 0 {
		fields = append(fields, "retry_count", t.RetryCount, "max_retries", t.MaxRetries)
	}
	return fields
}

// Start marks the task as picked up by a worker.
func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

// QueueWait is the time between construction and the latest Start.
func (t *Task) QueueWait() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return t.StartedAt.Sub(t.EnqueuedAt)
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}
