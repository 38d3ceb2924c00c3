package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

// MalformedError reports a document that could not be decoded as a feed.
type MalformedError struct {
	Line int
	Err  error
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed feed document at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed feed document: %v", e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

type Parser struct {
	universal      *gofeed.Parser
	atomParser     *atom.Parser
	rssParser      *rss.Parser
	atomTranslator gofeed.Translator
	rssTranslator  gofeed.Translator
}

func NewParser() *Parser {
	return &Parser{
		universal:      gofeed.NewParser(),
		atomParser:     &atom.Parser{},
		rssParser:      &rss.Parser{},
		atomTranslator: &gofeed.DefaultAtomTranslator{},
		rssTranslator:  &gofeed.DefaultRSSTranslator{},
	}
}

// Parse decodes RSS, Atom or JSON Feed bytes. Atom and RSS are parsed natively first
// so that rel=hub and rel=self links survive translation.
func (p *Parser) Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MalformedError{Err: errors.New("empty document")}
	}

	var (
		parsed      *gofeed.Feed
		atomEntries []*atom.Entry
		hubURL      string
		selfURL     string
		err         error
	)

	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeAtom:
		atomFeed, parseErr := p.atomParser.Parse(bytes.NewReader(data))
		if parseErr != nil {
			return nil, malformed(parseErr)
		}
		hubURL, selfURL = atomRelLinks(atomFeed.Links)
		atomEntries = atomFeed.Entries
		parsed, err = p.atomTranslator.Translate(atomFeed)

	case gofeed.FeedTypeRSS:
		rssFeed, parseErr := p.rssParser.Parse(bytes.NewReader(data))
		if parseErr != nil {
			return nil, malformed(parseErr)
		}
		hubURL, selfURL = extensionRelLinks(rssFeed.Extensions)
		parsed, err = p.rssTranslator.Translate(rssFeed)

	case gofeed.FeedTypeJSON:
		parsed, err = p.universal.Parse(bytes.NewReader(data))

	default:
		return nil, malformed(gofeed.ErrFeedTypeNotDetected)
	}

	if err != nil {
		return nil, malformed(err)
	}

	doc := &Document{
		Title:   strings.TrimSpace(parsed.Title),
		Link:    strings.TrimSpace(parsed.Link),
		HubURL:  hubURL,
		SelfURL: cmp.Or(selfURL, strings.TrimSpace(parsed.FeedLink)),
		Entries: make([]Entry, 0, len(parsed.Items)),
	}

	for i, item := range parsed.Items {
		if item == nil {
			continue
		}
		entry := normalizeItem(item)
		// The Atom translator backfills published from updated.
		if atomEntries != nil && i < len(atomEntries) {
			atomPublished(&entry, atomEntries[i])
		}
		doc.Entries = append(doc.Entries, entry)
	}

	return doc, nil
}

func normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		ID:          strings.TrimSpace(item.GUID),
		Link:        strings.TrimSpace(item.Link),
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(item.Description),
		Content:     strings.TrimSpace(item.Content),
		Author:      extractAuthor(item),
	}

	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = strings.TrimSpace(item.Links[0])
	}

	if item.PublishedParsed != nil {
		entry.Published = item.PublishedParsed.UTC()
		entry.HasPublished = true
	}

	if item.UpdatedParsed != nil {
		entry.Updated = item.UpdatedParsed.UTC()
		entry.HasUpdated = true
	}

	return entry
}

func atomPublished(entry *Entry, native *atom.Entry) {
	entry.Published = time.Time{}
	entry.HasPublished = false
	if native != nil && native.PublishedParsed != nil {
		entry.Published = native.PublishedParsed.UTC()
		entry.HasPublished = true
	}
}

func extractAuthor(item *gofeed.Item) string {
	person := item.Author
	if person == nil && len(item.Authors) > 0 {
		person = item.Authors[0]
	}
	if person == nil {
		return ""
	}
	return cmp.Or(strings.TrimSpace(person.Name), strings.TrimSpace(person.Email))
}

func atomRelLinks(links []*atom.Link) (hub, self string) {
	for _, link := range links {
		if link == nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(link.Rel)) {
		case "hub":
			hub = cmp.Or(hub, strings.TrimSpace(link.Href))
		case "self":
			self = cmp.Or(self, strings.TrimSpace(link.Href))
		}
	}
	return hub, self
}

// extensionRelLinks reads <atom:link rel="..."> elements embedded in an RSS channel.
func extensionRelLinks(extensions ext.Extensions) (hub, self string) {
	for _, link := range extensions["atom"]["link"] {
		href := strings.TrimSpace(link.Attrs["href"])
		switch strings.ToLower(strings.TrimSpace(link.Attrs["rel"])) {
		case "hub":
			hub = cmp.Or(hub, href)
		case "self":
			self = cmp.Or(self, href)
		}
	}
	return hub, self
}

func malformed(err error) *MalformedError {
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &MalformedError{Line: syntaxErr.Line, Err: err}
	}
	return &MalformedError{Err: err}
}
