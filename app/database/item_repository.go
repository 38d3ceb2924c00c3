package database

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
)

var _ ItemRepository = (*ItemStore)(nil)

const keyLookupBatchSize = 500

var itemColumns = []string{
	"key", "stream_key", "external_id", "title", "author", "url",
	"summary", "content", "published", "updated", "created_at",
}

type ItemStore struct {
	db *DB
}

func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// ExistingKeys returns the subset of keys already persisted.
func (r *ItemStore) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool)

	for _, batch := range lo.Chunk(lo.Uniq(keys), keyLookupBatchSize) {
		sb := r.db.flavor.NewSelectBuilder()
		sb.Select("key").From("items").Where(sb.In("key", lo.ToAnySlice(batch)...))
		query, args := sb.Build()

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up item keys: %w", err)
		}

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan item key: %w", err)
			}
			existing[key] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to look up item keys: %w", err)
		}
	}

	return existing, nil
}

// InsertItems persists items in one transaction and returns those that were actually
// inserted. The primary key decides: rows whose key already exists are skipped.
func (r *ItemStore) InsertItems(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := make([]Item, 0, len(items))

	for _, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}

		ib := r.db.flavor.NewInsertBuilder()
		ib.InsertInto("items").Cols(itemColumns...).Values(
			item.Key, item.StreamKey, item.ExternalID, item.Title, item.Author, item.URL,
			item.Summary, item.Content, utcPtr(item.Published), utcPtr(item.Updated), item.CreatedAt,
		)
		query, args := ib.Build()

		res, err := tx.ExecContext(ctx, query+" ON CONFLICT (key) DO NOTHING", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %s: %w", item.Key, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %s: %w", item.Key, err)
		}
		if affected > 0 {
			inserted = append(inserted, item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit items: %w", err)
	}

	return inserted, nil
}

// ListItems returns the newest items of a stream first.
func (r *ItemStore) ListItems(ctx context.Context, streamKey string, limit int) ([]Item, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).From("items").Where(sb.Equal("stream_key", streamKey))
	sb.OrderBy("COALESCE(updated, published, created_at)").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.Key, &item.StreamKey, &item.ExternalID, &item.Title, &item.Author, &item.URL,
			&item.Summary, &item.Content, &item.Published, &item.Updated, &item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *ItemStore) CountItems(ctx context.Context, streamKey string) (int, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From("items").Where(sb.Equal("stream_key", streamKey))
	query, args := sb.Build()

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}

	return count, nil
}

func (r *ItemStore) DeleteStreamItems(ctx context.Context, streamKey string) (int64, error) {
	db := r.db.flavor.NewDeleteBuilder()
	db.DeleteFrom("items").Where(db.Equal("stream_key", streamKey))
	query, args := db.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stream items: %w", err)
	}

	return res.RowsAffected()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
