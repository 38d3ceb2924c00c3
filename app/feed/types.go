package feed

import (
	"time"
)

// Document is a feed normalized at the fetch/parse boundary. Optional values carry
// explicit presence flags so callers never guess whether a field was supplied.
type Document struct {
	Title   string
	Link    string
	HubURL  string // rel=hub from the document or the HTTP Link header
	SelfURL string // rel=self topic URL
	Entries []Entry

	Status          int
	HasStatus       bool
	ETag            string
	HasETag         bool
	LastModified    time.Time
	HasLastModified bool
}

type Entry struct {
	ID          string // feed-native id (guid / atom:id)
	Link        string
	Title       string
	Description string
	Content     string
	Author      string

	Published    time.Time
	HasPublished bool
	Updated      time.Time
	HasUpdated   bool
}

// Conditional carries validators from the previous poll. Zero values are not sent.
type Conditional struct {
	ETag         string
	LastModified *time.Time
}

// Seed is a stream definition loaded from the streams directory.
type Seed struct {
	StreamID  string // Derived from filename (without .yml extension)
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Format    string `yaml:"format"`
	Subscribe bool   `yaml:"subscribe"`
}
