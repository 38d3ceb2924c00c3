package api

import (
	"context"
	"sync"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/poller"
)

type MockPoller struct {
	mu          sync.Mutex
	cycle       poller.CycleResult
	streamPolls []string
	wakes       int
	enabled     bool
	err         error
}

func (m *MockPoller) PollNow(ctx context.Context) (poller.CycleResult, error) {
	return m.cycle, m.err
}

func (m *MockPoller) PollStream(ctx context.Context, key string) (poller.CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamPolls = append(m.streamPolls, key)
	if m.err != nil {
		return poller.CycleResult{}, m.err
	}
	return poller.CycleResult{Outcome: poller.OutcomePolled, StreamID: key[1:], NewItems: 2}, nil
}

func (m *MockPoller) Wake(ctx context.Context) (poller.WakeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakes++
	if !m.enabled {
		return poller.WakeNotEnabled, nil
	}
	return poller.WakeStarted, nil
}

func (m *MockPoller) Toggle(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = !m.enabled
	return m.enabled, nil
}

func (m *MockPoller) State(ctx context.Context) (*database.PollerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &database.PollerState{IsEnabled: m.enabled}, nil
}

func (m *MockPoller) Wakes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakes
}

type MockResolver struct {
	err error
}

func (m *MockResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return rawURL, nil
}

type MockNotifier struct {
	mu      sync.Mutex
	batches [][]database.Item
}

func (m *MockNotifier) Notify(ctx context.Context, streamID string, items []database.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, items)
	return nil
}

func (m *MockNotifier) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
