package database

import (
	"time"
)

// NeverPolled is the last_polled value of a stream that has not been fetched yet.
var NeverPolled = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// StreamKey derives the storage key of a stream from its stream_id.
func StreamKey(streamID string) string {
	return "z" + streamID
}

type Stream struct {
	Key              string // "z" + StreamID
	StreamID         string // user-assigned slug, immutable
	Title            string
	URL              string // canonical feed URL
	Format           string
	Deleted          bool
	HTTPStatus       int // 0 until the first response
	HTTPETag         string
	HTTPLastModified *time.Time
	LastPolled       time.Time
	HubURL           string
	VerifyToken      string
	IsSubscribed     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Item struct {
	Key        string // derived key, unique across all streams
	StreamKey  string
	ExternalID string
	Title      string
	Author     string
	URL        string
	Summary    string
	Content    string
	Published  *time.Time
	Updated    *time.Time
	CreatedAt  time.Time
}

type PollerState struct {
	IsEnabled      bool
	IsRunning      bool
	LeaseExpiresAt *time.Time
	UpdatedAt      time.Time
}

// LeaseActive reports whether a poll cycle holds an unexpired lease at now.
func (s PollerState) LeaseActive(now time.Time) bool {
	return s.IsRunning && s.LeaseExpiresAt != nil && s.LeaseExpiresAt.After(now)
}

// PollUpdate carries the outcome of one poll. Nil fields keep their stored value.
type PollUpdate struct {
	LastPolled       time.Time
	HTTPStatus       *int
	HTTPETag         *string
	HTTPLastModified *time.Time
}

// StreamChanges carries editable stream attributes. Empty fields are left unchanged.
type StreamChanges struct {
	Title  string
	URL    string
	Format string
}
