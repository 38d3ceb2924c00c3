package feed

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tomnomnom/linkheader"
)

const maxDocumentSize = 10 << 20

// StatusError is returned for responses that are neither 2xx nor 304.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.Code, http.StatusText(e.Code))
}

type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, parser *Parser, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Fetch performs a conditional GET and parses the body. When the server answered, the
// returned document carries the response status and validators even if err is non-nil.
func (f *Fetcher) Fetch(ctx context.Context, url string, cond Conditional) (*Document, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastModified != nil {
		req.Header.Set("If-Modified-Since", cond.LastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	doc := &Document{
		Status:    resp.StatusCode,
		HasStatus: true,
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		doc.ETag = etag
		doc.HasETag = true
	}

	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if parsed, err := http.ParseTime(lastModified); err == nil {
			doc.LastModified = parsed.UTC()
			doc.HasLastModified = true
		}
	}

	headerHub := hubFromLinkHeader(resp.Header.Values("Link"))

	if resp.StatusCode == http.StatusNotModified {
		doc.HubURL = headerHub
		return doc, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return doc, &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return doc, fmt.Errorf("failed to read response body: %w", err)
	}

	parsed, err := f.parser.Parse(data)
	if err != nil {
		return doc, err
	}

	doc.Title = parsed.Title
	doc.Link = parsed.Link
	doc.HubURL = cmp.Or(parsed.HubURL, headerHub)
	doc.SelfURL = parsed.SelfURL
	doc.Entries = parsed.Entries

	return doc, nil
}

// hubFromLinkHeader returns the first rel=hub target of the response Link headers.
func hubFromLinkHeader(values []string) string {
	for _, link := range linkheader.ParseMultiple(values) {
		for _, rel := range strings.Fields(link.Rel) {
			if strings.EqualFold(rel, "hub") {
				return link.URL
			}
		}
	}
	return ""
}
