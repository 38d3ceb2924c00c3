package activity

import (
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/samber/lo"
)

// TimeFormat is the fixed RFC 1123 style used for activity times.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 +0000"

type Update struct {
	Status   string     `json:"status"`
	StreamID string     `json:"stream_id"`
	Activity []Activity `json:"activity"`
}

type Activity struct {
	Action Action `json:"action"`
	Object Object `json:"object"`
	Actor  Actor  `json:"actor"`
}

type Action struct {
	Type    string            `json:"type"`
	Summary string            `json:"summary"`
	Time    string            `json:"time"`
	UID     string            `json:"uid"`
	URL     string            `json:"url"`
	Meta    map[string]string `json:"meta"`
	Title   string            `json:"title"`
}

type Object struct {
	URL string `json:"url"`
}

type Actor struct {
	Person string `json:"person"`
}

func NewUpdate(streamID string, items []database.Item) Update {
	return Update{
		Status:   "active",
		StreamID: streamID,
		Activity: lo.Map(items, func(item database.Item, _ int) Activity {
			return FromItem(item)
		}),
	}
}

func FromItem(item database.Item) Activity {
	return Activity{
		Action: Action{
			Type:    "feeditem",
			Summary: feed.PlainText(item.Summary),
			Time:    activityTime(item).UTC().Format(TimeFormat),
			UID:     item.Key,
			URL:     item.URL,
			Meta:    map[string]string{},
			Title:   item.Title,
		},
		Object: Object{URL: item.URL},
		Actor:  Actor{Person: item.Author},
	}
}

// activityTime prefers the published time, then updated, then ingestion time.
func activityTime(item database.Item) time.Time {
	switch {
	case item.Published != nil:
		return *item.Published
	case item.Updated != nil:
		return *item.Updated
	default:
		return item.CreatedAt
	}
}
