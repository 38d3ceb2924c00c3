package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/metrics"
)

type Path string

const (
	PathPoll Path = "poll"
	PathPush Path = "push"
)

// Notifier receives the items persisted by one ingest call.
type Notifier interface {
	Notify(ctx context.Context, streamID string, items []database.Item) error
}

// Gateway is the single ingestion entry point for both the poll and the push path.
type Gateway struct {
	itemRepo database.ItemRepository
	notifier Notifier
	now      func() time.Time
}

func NewGateway(itemRepo database.ItemRepository, notifier Notifier) *Gateway {
	return &Gateway{
		itemRepo: itemRepo,
		notifier: notifier,
		now:      time.Now,
	}
}

// IngestEntries persists the entries of a stream that are not stored yet and notifies
// the activity sink with exactly those items. Storage key uniqueness decides which
// items are new when two calls for the same stream overlap.
func (g *Gateway) IngestEntries(ctx context.Context, stream database.Stream, entries []feed.Entry, path Path) ([]database.Item, error) {
	candidates := g.buildItems(stream, entries)
	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]string, len(candidates))
	for i, item := range candidates {
		keys[i] = item.Key
	}

	existing, err := g.itemRepo.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	fresh := make([]database.Item, 0, len(candidates))
	for _, item := range candidates {
		if !existing[item.Key] {
			fresh = append(fresh, item)
		}
	}

	var inserted []database.Item
	if len(fresh) > 0 {
		inserted, err = g.itemRepo.InsertItems(ctx, fresh)
		if err != nil {
			return nil, fmt.Errorf("failed to store items: %w", err)
		}
	}

	duplicates := len(candidates) - len(inserted)
	metrics.EntriesSkipped.WithLabelValues("duplicate").Add(float64(duplicates))
	metrics.ItemsIngested.WithLabelValues(string(path)).Add(float64(len(inserted)))

	logger.Debug("Entries ingested",
		"stream", stream.StreamID,
		"path", string(path),
		"total", len(entries),
		"duplicates", duplicates,
		"new", len(inserted))

	if len(inserted) > 0 {
		if err := g.notifier.Notify(ctx, stream.StreamID, inserted); err != nil {
			logger.Warn("Activity notification failed", "stream", stream.StreamID, "items", len(inserted), "error", err)
		}
	}

	return inserted, nil
}

func (g *Gateway) buildItems(stream database.Stream, entries []feed.Entry) []database.Item {
	now := g.now().UTC()
	seen := make(map[string]bool, len(entries))
	items := make([]database.Item, 0, len(entries))

	for _, entry := range entries {
		externalID, key, err := feed.Identify(entry, stream.StreamID)
		if errors.Is(err, feed.ErrUnidentifiable) {
			metrics.EntriesSkipped.WithLabelValues("unidentifiable").Inc()
			logger.Debug("Skipping entry without id, link or title", "stream", stream.StreamID)
			continue
		}

		if seen[key] {
			continue
		}
		seen[key] = true

		item := database.Item{
			Key:        key,
			StreamKey:  stream.Key,
			ExternalID: externalID,
			Title:      entry.Title,
			Author:     entry.Author,
			URL:        entry.Link,
			Summary:    feed.Summary(entry),
			Content:    entry.Content,
			CreatedAt:  now,
		}
		if entry.HasPublished {
			published := entry.Published
			item.Published = &published
		}
		if entry.HasUpdated {
			updated := entry.Updated
			item.Updated = &updated
		}

		items = append(items, item)
	}

	return items
}
