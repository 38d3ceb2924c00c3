package ingest

import (
	"context"
	"sync"

	"github.com/lysyi3m/rss-streams/app/database"
)

// MockItemRepository stores items in memory and enforces key uniqueness on insert.
type MockItemRepository struct {
	mu    sync.Mutex
	items map[string]database.Item
}

func NewMockItemRepository() *MockItemRepository {
	return &MockItemRepository{items: make(map[string]database.Item)}
}

func (m *MockItemRepository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool)
	for _, key := range keys {
		if _, ok := m.items[key]; ok {
			existing[key] = true
		}
	}
	return existing, nil
}

func (m *MockItemRepository) InsertItems(ctx context.Context, items []database.Item) ([]database.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted []database.Item
	for _, item := range items {
		if _, ok := m.items[item.Key]; ok {
			continue
		}
		m.items[item.Key] = item
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (m *MockItemRepository) ListItems(ctx context.Context, streamKey string, limit int) ([]database.Item, error) {
	return nil, nil
}

func (m *MockItemRepository) CountItems(ctx context.Context, streamKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *MockItemRepository) DeleteStreamItems(ctx context.Context, streamKey string) (int64, error) {
	return 0, nil
}

type notifyCall struct {
	streamID string
	items    []database.Item
}

type MockNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (m *MockNotifier) Notify(ctx context.Context, streamID string, items []database.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{streamID: streamID, items: items})
	return m.err
}

func (m *MockNotifier) Calls() []notifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifyCall(nil), m.calls...)
}
