package tasks

import (
	"context"
	"sync"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/poller"
)

type MockRunner struct {
	mu     sync.Mutex
	calls  int
	onRun  func()
	result poller.CycleResult
	err    error
}

func (m *MockRunner) RunCycle(ctx context.Context) (poller.CycleResult, error) {
	m.mu.Lock()
	m.calls++
	onRun := m.onRun
	m.mu.Unlock()

	if onRun != nil {
		onRun()
	}
	return m.result, m.err
}

func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockNotifier struct {
	mu      sync.Mutex
	batches map[string][]database.Item
	err     error
}

func (m *MockNotifier) Notify(ctx context.Context, streamID string, items []database.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = make(map[string][]database.Item)
	}
	m.batches[streamID] = append(m.batches[streamID], items...)
	return m.err
}

func (m *MockNotifier) Items(streamID string) []database.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[streamID]
}

type MockWaker struct {
	mu    sync.Mutex
	calls int
}

func (m *MockWaker) Wake(ctx context.Context) (poller.WakeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return poller.WakeStarted, nil
}

func (m *MockWaker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockSubscriber struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *MockSubscriber) RequestSubscription(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	if m.err != nil {
		return "", m.err
	}
	return "https://hub.example.com/", nil
}

func (m *MockSubscriber) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

type failingTask struct {
	Task
	mu       sync.Mutex
	attempts int
}

func (t *failingTask) Execute(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return context.DeadlineExceeded
}

func (t *failingTask) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}
