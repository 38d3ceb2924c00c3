package poller

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/ingest"
)

type fetchCall struct {
	URL  string
	Cond feed.Conditional
}

type stubFetcher struct {
	mu    sync.Mutex
	doc   *feed.Document
	err   error
	calls []fetchCall
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, cond feed.Conditional) (*feed.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{URL: url, Cond: cond})
	return f.doc, f.err
}

func (f *stubFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]database.Item
}

func (n *recordingNotifier) Notify(ctx context.Context, streamID string, items []database.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, items)
	return nil
}

type countingRearmer struct {
	mu    sync.Mutex
	count int
	err   error
}

func (r *countingRearmer) EnqueuePollCycle(runner CycleRunner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.count++
	return nil
}

func (r *countingRearmer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type testEnv struct {
	poller   *Poller
	streams  *database.StreamStore
	items    *database.ItemStore
	state    *database.PollerStateStore
	fetcher  *stubFetcher
	notifier *recordingNotifier
	rearmer  *countingRearmer
}

func newTestEnv(t *testing.T, enabled bool) *testEnv {
	t.Helper()

	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "streams.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	env := &testEnv{
		streams:  database.NewStreamStore(db),
		items:    database.NewItemStore(db),
		state:    database.NewPollerStateStore(db),
		fetcher:  &stubFetcher{},
		notifier: &recordingNotifier{},
		rearmer:  &countingRearmer{},
	}
	require.NoError(t, env.state.EnsurePollerState(t.Context(), enabled))

	config := NewConfigService(env.state, time.Minute)
	gateway := ingest.NewGateway(env.items, env.notifier)
	env.poller = New(env.streams, env.state, config, env.fetcher, gateway, Options{
		StalenessThreshold: 10 * time.Minute,
		LeaseTTL:           5 * time.Minute,
	})
	env.poller.SetRearmer(env.rearmer)

	return env
}

func (e *testEnv) createStream(t *testing.T, streamID string, lastPolled time.Time) *database.Stream {
	t.Helper()

	stream := &database.Stream{
		StreamID:   streamID,
		Title:      streamID,
		URL:        "https://example.com/" + streamID + ".xml",
		LastPolled: lastPolled,
	}
	require.NoError(t, e.streams.CreateStream(t.Context(), stream))
	return stream
}

func okDocument(entries ...feed.Entry) *feed.Document {
	return &feed.Document{
		Title:     "Example",
		Entries:   entries,
		Status:    200,
		HasStatus: true,
	}
}
