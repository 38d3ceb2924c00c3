package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/ingest"
	"github.com/lysyi3m/rss-streams/app/poller"
	"github.com/lysyi3m/rss-streams/app/pshb"
)

const pushedFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Pushed</title>
  <id>urn:feed</id>
  <updated>2024-01-02T00:00:00Z</updated>
  <entry>
    <title>First</title>
    <link href="https://example.com/a1"/>
    <id>urn:1</id>
    <updated>2024-01-02T00:00:00Z</updated>
    <summary>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</summary>
  </entry>
</feed>`

type testEnv struct {
	router   *gin.Engine
	streams  *database.StreamStore
	items    *database.ItemStore
	poller   *MockPoller
	resolver *MockResolver
	notifier *MockNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "streams.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	env := &testEnv{
		streams:  database.NewStreamStore(db),
		items:    database.NewItemStore(db),
		poller:   &MockPoller{},
		resolver: &MockResolver{},
		notifier: &MockNotifier{},
	}

	parser := feed.NewParser()
	fetcher := feed.NewFetcher(http.DefaultClient, parser, "test-agent", 5*time.Second)
	gateway := ingest.NewGateway(env.items, env.notifier)
	subscriber := pshb.NewSubscriber(env.streams, fetcher, parser, gateway, http.DefaultClient, pshb.Options{
		BaseURL: "https://streams.example.com",
	})

	handler := NewHandler(env.streams, env.items, env.poller, subscriber, env.resolver, "test")
	env.router = NewServer(handler, false)
	gin.SetMode(gin.TestMode)

	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) form(t *testing.T, target string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, target, values.Encode(), "application/x-www-form-urlencoded")
}

func (e *testEnv) createStream(t *testing.T, streamID, feedURL string) *database.Stream {
	t.Helper()

	stream := &database.Stream{StreamID: streamID, Title: streamID, URL: feedURL}
	require.NoError(t, e.streams.CreateStream(t.Context(), stream))
	return stream
}

func TestPoll(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		cycle poller.CycleResult
		want  string
	}{
		{"disabled", poller.CycleResult{Outcome: poller.OutcomeDisabled}, "feed poller not enabled"},
		{"idle", poller.CycleResult{Outcome: poller.OutcomeIdle}, "putting feed poller to sleep"},
		{"lease held", poller.CycleResult{Outcome: poller.OutcomeBusy}, "feed poller already running"},
		{"polled", poller.CycleResult{Outcome: poller.OutcomePolled, StreamID: "s1", NewItems: 3}, "polled s1 (3 new items)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.poller.cycle = tt.cycle
			w := env.do(t, http.MethodPost, "/poll", "", "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestPoll_WithKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.form(t, "/poll", url.Values{"key": {"zs1"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "polled s1 (2 new items)", w.Body.String())

	w = env.do(t, http.MethodPost, "/poll?key=zs2", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"zs1", "zs2"}, env.poller.streamPolls)

	env.poller.err = poller.ErrStreamNotFound
	w = env.form(t, "/poll", url.Values{"key": {"zmissing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTogglePoller(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/poll/toggle", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enabled true", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	w = env.do(t, http.MethodGet, "/poll/toggle", "", "")
	assert.Equal(t, "enabled false", w.Body.String())
}

func TestWakePoller(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/poll/wake", "", "")
	assert.Equal(t, "feed poller not enabled", w.Body.String())

	env.poller.enabled = true
	w = env.do(t, http.MethodPost, "/poll/wake", "", "")
	assert.Equal(t, "woke up feed poller", w.Body.String())
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pushedFeed))
	}))
	defer source.Close()
	env.createStream(t, "s1", source.URL)

	w := env.form(t, "/subscribe", url.Values{"key": {"zs1"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no hub found", w.Body.String())

	w = env.form(t, "/subscribe", url.Values{"key": {"zmissing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.form(t, "/subscribe", url.Values{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.form(t, "/unsubscribe", url.Values{"key": {"zs1"}})
	assert.Equal(t, "no hub found", w.Body.String())
}

func TestVerifyCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	stream := env.createStream(t, "s1", "https://example.com/atom.xml")
	require.NoError(t, env.streams.SetSubscriptionRequest(ctx, stream.Key, "https://hub.example.com/", "RIGHT"))

	isSubscribed := func() bool {
		stored, err := env.streams.GetStream(ctx, stream.Key)
		require.NoError(t, err)
		return stored.IsSubscribed
	}

	w := env.do(t, http.MethodGet, "/callback/s1?hub.mode=subscribe&hub.challenge=abc&hub.verify_token=WRONG", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, isSubscribed())

	w = env.do(t, http.MethodGet, "/callback/s1?hub.mode=subscribe&hub.challenge=abc%25d&hub.verify_token=RIGHT", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc%d", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.True(t, isSubscribed())

	w = env.do(t, http.MethodGet, "/callback/s1?hub.mode=unsubscribe&hub.challenge=xyz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xyz", w.Body.String())
	assert.False(t, isSubscribed())

	w = env.do(t, http.MethodGet, "/callback/s1?hub.mode=bogus&hub.challenge=xyz", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/callback/nope?hub.mode=subscribe&hub.challenge=abc&hub.verify_token=RIGHT", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	stream := env.createStream(t, "s1", "https://example.com/atom.xml")

	w := env.do(t, http.MethodPost, "/callback/s1", pushedFeed, "application/atom+xml")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/callback/s1", pushedFeed, "application/atom+xml")
	assert.Equal(t, http.StatusOK, w.Code)

	count, err := env.items.CountItems(ctx, stream.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, env.notifier.Batches())

	w = env.do(t, http.MethodPost, "/callback/s1", "<feed><entry>", "application/atom+xml")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "malformed feed document", w.Body.String())

	w = env.do(t, http.MethodPost, "/callback/nope", pushedFeed, "application/atom+xml")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentCallback_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.createStream(t, "s1", "https://example.com/atom.xml")

	body := strings.Repeat("x", maxContentSize+1)
	w := env.do(t, http.MethodPost, "/callback/s1", body, "application/atom+xml")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	w := env.do(t, http.MethodPost, "/streams",
		`{"stream_id":"news","title":"News","url":"https://example.com/news.xml"}`, "application/json")
	require.Equal(t, http.StatusCreated, w.Code)

	var created StreamResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "news", created.StreamID)
	assert.Equal(t, "znews", created.Key)
	assert.Equal(t, 1, env.poller.Wakes())

	stored, err := env.streams.GetStream(ctx, "znews")
	require.NoError(t, err)
	assert.True(t, stored.LastPolled.Equal(database.NeverPolled))

	w = env.form(t, "/streams", url.Values{"stream_id": {"news"}, "url": {"https://example.com/other.xml"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateStream_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.form(t, "/streams", url.Values{"stream_id": {"Bad Slug"}, "url": {"https://example.com/a.xml"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.form(t, "/streams", url.Values{"stream_id": {"ok"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.resolver.err = feed.ErrNoFeedFound
	w = env.form(t, "/streams", url.Values{"stream_id": {"ok"}, "url": {"https://example.com/"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStream(t *testing.T) {
	env := newTestEnv(t)

	env.createStream(t, "s1", "https://example.com/atom.xml")
	w := env.do(t, http.MethodPost, "/callback/s1", pushedFeed, "application/atom+xml")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/streams/s1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stream    StreamResponse `json:"stream"`
		ItemCount int            `json:"item_count"`
		Activity  struct {
			Status   string `json:"status"`
			StreamID string `json:"stream_id"`
			Activity []struct {
				Action struct {
					Summary string `json:"summary"`
					Time    string `json:"time"`
					UID     string `json:"uid"`
					URL     string `json:"url"`
				} `json:"action"`
			} `json:"activity"`
		} `json:"activity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "s1", body.Stream.StreamID)
	assert.Equal(t, 1, body.ItemCount)
	assert.Equal(t, "active", body.Activity.Status)
	require.Len(t, body.Activity.Activity, 1)
	assert.Equal(t, "Hello world", body.Activity.Activity[0].Action.Summary)
	assert.Equal(t, "https://example.com/a1", body.Activity.Activity[0].Action.URL)
	assert.Equal(t, "Tue, 02 Jan 2024 00:00:00 +0000", body.Activity.Activity[0].Action.Time)
	assert.True(t, strings.HasPrefix(body.Activity.Activity[0].Action.UID, "z"))

	w = env.do(t, http.MethodGet, "/streams/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	stream := env.createStream(t, "s1", "https://example.com/old.xml")
	require.NoError(t, env.streams.RecordPoll(ctx, stream.Key, database.PollUpdate{LastPolled: time.Now()}))

	w := env.do(t, http.MethodPut, "/streams/s1", `{"title":"Renamed","url":"https://example.com/new.xml"}`, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.streams.GetStream(ctx, stream.Key)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
	assert.Equal(t, "https://example.com/new.xml", stored.URL)
	assert.True(t, stored.LastPolled.Equal(database.NeverPolled))
	assert.Equal(t, 1, env.poller.Wakes())

	env.resolver.err = errors.New("unreachable")
	w = env.do(t, http.MethodPut, "/streams/s1", `{"url":"https://example.com/broken"}`, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	stream := env.createStream(t, "s1", "https://example.com/atom.xml")
	w := env.do(t, http.MethodPost, "/callback/s1", pushedFeed, "application/atom+xml")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/streams/s1", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	count, err := env.items.CountItems(ctx, stream.Key)
	require.NoError(t, err)
	assert.Zero(t, count)

	stored, err := env.streams.GetStream(ctx, stream.Key)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)

	w = env.do(t, http.MethodGet, "/streams/s1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/callback/s1", pushedFeed, "application/atom+xml")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListStreams(t *testing.T) {
	env := newTestEnv(t)

	env.createStream(t, "a", "https://example.com/a.xml")
	gone := env.createStream(t, "b", "https://example.com/b.xml")
	require.NoError(t, env.streams.MarkDeleted(t.Context(), gone.Key))

	w := env.do(t, http.MethodGet, "/streams", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Streams []StreamResponse `json:"streams"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "a", body.Streams[0].StreamID)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.createStream(t, "a", "https://example.com/a.xml")

	w := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "test", health["version"])
	assert.EqualValues(t, 1, health["streams"])
	assert.Contains(t, health, "poller")

	w = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
