package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStream = database.Stream{Key: "zs1", StreamID: "s1"}

func threeEntries() []feed.Entry {
	published := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []feed.Entry{
		{ID: "1", Link: "https://example.com/1", Title: "One", Description: "First", Published: published, HasPublished: true},
		{Link: "https://example.com/2", Title: "Two"},
		{Title: "Three"},
	}
}

func TestIngestEntriesPersistsAndNotifiesOnce(t *testing.T) {
	repo := NewMockItemRepository()
	notifier := &MockNotifier{}
	gateway := NewGateway(repo, notifier)

	items, err := gateway.IngestEntries(t.Context(), testStream, threeEntries(), PathPoll)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	calls := notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "s1", calls[0].streamID)
	assert.Len(t, calls[0].items, 3)

	first := items[0]
	assert.Equal(t, "zs1", first.StreamKey)
	assert.Equal(t, "1", first.ExternalID)
	assert.Equal(t, "First", first.Summary)
	require.NotNil(t, first.Published)
	assert.Nil(t, first.Updated)

	assert.Equal(t, "Two", items[1].Summary, "summary falls back to title")
	assert.Equal(t, "Three", items[2].ExternalID)
}

func TestIngestEntriesIsIdempotentAcrossPaths(t *testing.T) {
	repo := NewMockItemRepository()
	notifier := &MockNotifier{}
	gateway := NewGateway(repo, notifier)

	_, err := gateway.IngestEntries(t.Context(), testStream, threeEntries(), PathPoll)
	require.NoError(t, err)

	items, err := gateway.IngestEntries(t.Context(), testStream, threeEntries(), PathPush)
	require.NoError(t, err)
	assert.Empty(t, items)

	count, err := repo.CountItems(t.Context(), "zs1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, notifier.Calls(), 1, "no notification for an all-duplicate batch")
}

func TestIngestEntriesSkipsUnidentifiableAndBatchDuplicates(t *testing.T) {
	repo := NewMockItemRepository()
	notifier := &MockNotifier{}
	gateway := NewGateway(repo, notifier)

	entries := []feed.Entry{
		{Description: "no id, link or title"},
		{ID: "dup", Link: "https://example.com/d"},
		{ID: "dup", Link: "https://example.com/d", Title: "same key"},
	}

	items, err := gateway.IngestEntries(t.Context(), testStream, entries, PathPush)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	onlyUnidentifiable, err := gateway.IngestEntries(t.Context(), testStream, entries[:1], PathPush)
	require.NoError(t, err)
	assert.Empty(t, onlyUnidentifiable)
	assert.Len(t, notifier.Calls(), 1)
}

func TestIngestEntriesIgnoresNotifierFailure(t *testing.T) {
	notifier := &MockNotifier{err: errors.New("sink down")}
	gateway := NewGateway(NewMockItemRepository(), notifier)

	items, err := gateway.IngestEntries(t.Context(), testStream, threeEntries(), PathPoll)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestIngestEntriesConcurrentPathsNeverDuplicate(t *testing.T) {
	repo := NewMockItemRepository()
	notifier := &MockNotifier{}
	gateway := NewGateway(repo, notifier)

	var wg sync.WaitGroup
	for _, path := range []Path{PathPoll, PathPush, PathPoll, PathPush} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gateway.IngestEntries(t.Context(), testStream, threeEntries(), path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	notified := 0
	for _, call := range notifier.Calls() {
		assert.NotEmpty(t, call.items)
		notified += len(call.items)
	}
	assert.Equal(t, 3, notified)

	count, err := repo.CountItems(t.Context(), "zs1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
