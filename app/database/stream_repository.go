package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ StreamRepository = (*StreamStore)(nil)

var streamColumns = []string{
	"key", "stream_id", "title", "url", "format", "deleted",
	"http_status", "http_etag", "http_last_modified", "last_polled",
	"pshb_hub_url", "pshb_verify_token", "pshb_is_subscribed",
	"created_at", "updated_at",
}

type StreamStore struct {
	db *DB
}

func NewStreamStore(db *DB) *StreamStore {
	return &StreamStore{db: db}
}

// GetStream returns nil when no stream has the given key. Deleted streams are returned.
func (r *StreamStore) GetStream(ctx context.Context, key string) (*Stream, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select(streamColumns...).From("streams").Where(sb.Equal("key", key))
	query, args := sb.Build()

	stream, err := scanStream(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return stream, nil
}

// GetStalestStream returns the non-deleted stream with the oldest last_polled, or nil.
func (r *StreamStore) GetStalestStream(ctx context.Context) (*Stream, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select(streamColumns...).From("streams").Where(sb.Equal("deleted", false))
	sb.OrderBy("last_polled", "key").Asc()
	sb.Limit(1)
	query, args := sb.Build()

	stream, err := scanStream(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stalest stream: %w", err)
	}

	return stream, nil
}

func (r *StreamStore) ListStreams(ctx context.Context) ([]Stream, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select(streamColumns...).From("streams").Where(sb.Equal("deleted", false))
	sb.OrderBy("stream_id").Asc()
	query, args := sb.Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream row: %w", err)
		}
		streams = append(streams, *stream)
	}

	return streams, rows.Err()
}

func (r *StreamStore) CountStreams(ctx context.Context) (int, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From("streams").Where(sb.Equal("deleted", false))
	query, args := sb.Build()

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count streams: %w", err)
	}

	return count, nil
}

// CreateStream inserts a new stream and fills in its key and bookkeeping fields.
// It returns ErrStreamExists when the stream_id is taken, including by a deleted stream.
func (r *StreamStore) CreateStream(ctx context.Context, stream *Stream) error {
	now := time.Now().UTC()
	stream.Key = StreamKey(stream.StreamID)
	if stream.LastPolled.IsZero() {
		stream.LastPolled = NeverPolled
	}
	stream.CreatedAt = now
	stream.UpdatedAt = now

	ib := r.db.flavor.NewInsertBuilder()
	ib.InsertInto("streams").Cols(streamColumns...).Values(
		stream.Key, stream.StreamID, stream.Title, stream.URL, stream.Format, stream.Deleted,
		stream.HTTPStatus, stream.HTTPETag, stream.HTTPLastModified, stream.LastPolled.UTC(),
		stream.HubURL, stream.VerifyToken, stream.IsSubscribed,
		stream.CreatedAt, stream.UpdatedAt,
	)
	query, args := ib.Build()

	res, err := r.db.ExecContext(ctx, query+" ON CONFLICT DO NOTHING", args...)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	if affected == 0 {
		return ErrStreamExists
	}

	return nil
}

// UpdateStream applies changes and reports whether the URL changed. A new URL resets
// the HTTP caching state and queues the stream for an immediate poll.
func (r *StreamStore) UpdateStream(ctx context.Context, key string, changes StreamChanges) (bool, error) {
	existing, err := r.GetStream(ctx, key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("stream %s not found", key)
	}

	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("streams").Set(ub.Assign("updated_at", time.Now().UTC()))

	if changes.Title != "" {
		ub.SetMore(ub.Assign("title", changes.Title))
	}
	if changes.Format != "" {
		ub.SetMore(ub.Assign("format", changes.Format))
	}

	urlChanged := changes.URL != "" && changes.URL != existing.URL
	if urlChanged {
		ub.SetMore(
			ub.Assign("url", changes.URL),
			ub.Assign("http_status", 0),
			ub.Assign("http_etag", ""),
			ub.Assign("http_last_modified", nil),
			ub.Assign("last_polled", NeverPolled),
		)
	}

	ub.Where(ub.Equal("key", key))
	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to update stream: %w", err)
	}

	return urlChanged, nil
}

func (r *StreamStore) RecordPoll(ctx context.Context, key string, update PollUpdate) error {
	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("streams").Set(
		ub.Assign("last_polled", update.LastPolled.UTC()),
		ub.Assign("updated_at", time.Now().UTC()),
	)

	if update.HTTPStatus != nil {
		ub.SetMore(ub.Assign("http_status", *update.HTTPStatus))
	}
	if update.HTTPETag != nil {
		ub.SetMore(ub.Assign("http_etag", *update.HTTPETag))
	}
	if update.HTTPLastModified != nil {
		ub.SetMore(ub.Assign("http_last_modified", update.HTTPLastModified.UTC()))
	}

	ub.Where(ub.Equal("key", key))

	return r.exec(ctx, ub, "record poll")
}

func (r *StreamStore) SetSubscriptionRequest(ctx context.Context, key, hubURL, verifyToken string) error {
	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("streams").Set(
		ub.Assign("pshb_hub_url", hubURL),
		ub.Assign("pshb_verify_token", verifyToken),
		ub.Assign("updated_at", time.Now().UTC()),
	).Where(ub.Equal("key", key))

	return r.exec(ctx, ub, "set subscription request")
}

func (r *StreamStore) SetSubscribed(ctx context.Context, key string, subscribed bool) error {
	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("streams").Set(
		ub.Assign("pshb_is_subscribed", subscribed),
		ub.Assign("updated_at", time.Now().UTC()),
	).Where(ub.Equal("key", key))

	return r.exec(ctx, ub, "set subscribed")
}

// MarkDeleted soft-deletes a stream. Its items must be removed beforehand.
func (r *StreamStore) MarkDeleted(ctx context.Context, key string) error {
	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("streams").Set(
		ub.Assign("deleted", true),
		ub.Assign("pshb_is_subscribed", false),
		ub.Assign("updated_at", time.Now().UTC()),
	).Where(ub.Equal("key", key))

	return r.exec(ctx, ub, "mark deleted")
}

type builder interface {
	Build() (string, []interface{})
}

func (r *StreamStore) exec(ctx context.Context, b builder, operation string) error {
	query, args := b.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", operation, err)
	}
	return nil
}

func scanStream(row scanner) (*Stream, error) {
	var s Stream
	err := row.Scan(
		&s.Key, &s.StreamID, &s.Title, &s.URL, &s.Format, &s.Deleted,
		&s.HTTPStatus, &s.HTTPETag, &s.HTTPLastModified, &s.LastPolled,
		&s.HubURL, &s.VerifyToken, &s.IsSubscribed,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
