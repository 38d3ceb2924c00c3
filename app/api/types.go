package api

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/poller"
	"github.com/lysyi3m/rss-streams/app/pshb"
)

type PollerInterface interface {
	PollNow(ctx context.Context) (poller.CycleResult, error)
	PollStream(ctx context.Context, key string) (poller.CycleResult, error)
	Wake(ctx context.Context) (poller.WakeResult, error)
	Toggle(ctx context.Context) (bool, error)
	State(ctx context.Context) (*database.PollerState, error)
}

type SubscriberInterface interface {
	RequestSubscription(ctx context.Context, key string) (string, error)
	RequestUnsubscription(ctx context.Context, key string) (string, error)
	HandleVerification(ctx context.Context, streamID string, req pshb.VerifyRequest) (string, error)
	HandleContentDistribution(ctx context.Context, streamID string, body []byte) ([]database.Item, error)
}

type ResolverInterface interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

var (
	_ PollerInterface     = (*poller.Poller)(nil)
	_ SubscriberInterface = (*pshb.Subscriber)(nil)
)

type Handler struct {
	streamRepo database.StreamRepository
	itemRepo   database.ItemRepository
	poller     PollerInterface
	subscriber SubscriberInterface
	resolver   ResolverInterface
	version    string
}

type StreamRequest struct {
	StreamID string `json:"stream_id" form:"stream_id"`
	Title    string `json:"title" form:"title"`
	URL      string `json:"url" form:"url"`
	Format   string `json:"format" form:"format"`
}

type StreamResponse struct {
	StreamID         string     `json:"stream_id"`
	Key              string     `json:"key"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	Format           string     `json:"format"`
	HTTPStatus       int        `json:"http_status"`
	HTTPETag         string     `json:"http_etag,omitempty"`
	HTTPLastModified *time.Time `json:"http_last_modified,omitempty"`
	LastPolled       time.Time  `json:"last_polled"`
	HubURL           string     `json:"pshb_hub_url,omitempty"`
	IsSubscribed     bool       `json:"pshb_is_subscribed"`
	CreatedAt        time.Time  `json:"created"`
	UpdatedAt        time.Time  `json:"updated"`
}

func newStreamResponse(s database.Stream) StreamResponse {
	return StreamResponse{
		StreamID:         s.StreamID,
		Key:              s.Key,
		Title:            s.Title,
		URL:              s.URL,
		Format:           s.Format,
		HTTPStatus:       s.HTTPStatus,
		HTTPETag:         s.HTTPETag,
		HTTPLastModified: s.HTTPLastModified,
		LastPolled:       s.LastPolled,
		HubURL:           s.HubURL,
		IsSubscribed:     s.IsSubscribed,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
