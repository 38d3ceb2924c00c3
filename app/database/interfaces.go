package database

import (
	"context"
	"errors"
	"time"
)

var ErrStreamExists = errors.New("stream already exists")

type StreamRepository interface {
	GetStream(ctx context.Context, key string) (*Stream, error)
	GetStalestStream(ctx context.Context) (*Stream, error)
	ListStreams(ctx context.Context) ([]Stream, error)
	CountStreams(ctx context.Context) (int, error)

	CreateStream(ctx context.Context, stream *Stream) error
	UpdateStream(ctx context.Context, key string, changes StreamChanges) (bool, error)
	RecordPoll(ctx context.Context, key string, update PollUpdate) error
	SetSubscriptionRequest(ctx context.Context, key, hubURL, verifyToken string) error
	SetSubscribed(ctx context.Context, key string, subscribed bool) error
	MarkDeleted(ctx context.Context, key string) error
}

type ItemRepository interface {
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
	InsertItems(ctx context.Context, items []Item) ([]Item, error)
	ListItems(ctx context.Context, streamKey string, limit int) ([]Item, error)
	CountItems(ctx context.Context, streamKey string) (int, error)
	DeleteStreamItems(ctx context.Context, streamKey string) (int64, error)
}

type PollerStateRepository interface {
	EnsurePollerState(ctx context.Context, enabled bool) error
	GetPollerState(ctx context.Context) (*PollerState, error)
	SetPollerEnabled(ctx context.Context, enabled bool) error

	AcquireLease(ctx context.Context, now time.Time, ttl time.Duration) (bool, error)
	RefreshLease(ctx context.Context, now time.Time, ttl time.Duration) error
	ReleaseLease(ctx context.Context) error
}
