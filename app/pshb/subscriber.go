package pshb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/ingest"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/metrics"
)

var (
	ErrStreamNotFound       = errors.New("stream not found")
	ErrNoHub                = errors.New("no hub found")
	ErrVerificationRejected = errors.New("verification rejected")
	ErrMalformedContent     = errors.New("malformed feed document")
	ErrMissingChallenge     = errors.New("missing hub.challenge")
	ErrUnknownMode          = errors.New("unknown hub.mode")
)

const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, cond feed.Conditional) (*feed.Document, error)
}

type Parser interface {
	Parse(data []byte) (*feed.Document, error)
}

type Ingester interface {
	IngestEntries(ctx context.Context, stream database.Stream, entries []feed.Entry, path ingest.Path) ([]database.Item, error)
}

// VerifyRequest holds the hub.* query parameters of a verification callback.
type VerifyRequest struct {
	Mode        string
	Topic       string
	Challenge   string
	VerifyToken string
}

type Options struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
}

// Subscriber drives the hub handshake for streams whose feeds advertise a hub and
// feeds pushed content into the same ingest path as polling.
type Subscriber struct {
	streamRepo database.StreamRepository
	fetcher    Fetcher
	parser     Parser
	ingester   Ingester
	httpClient *http.Client
	opts       Options
	newToken   func() string
}

func NewSubscriber(streamRepo database.StreamRepository, fetcher Fetcher, parser Parser,
	ingester Ingester, httpClient *http.Client, opts Options) *Subscriber {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Subscriber{
		streamRepo: streamRepo,
		fetcher:    fetcher,
		parser:     parser,
		ingester:   ingester,
		httpClient: httpClient,
		opts:       opts,
		newToken:   uuid.NewString,
	}
}

// RequestSubscription discovers the stream's hub and asks it to start pushing. The
// stream is subscribed only after the hub's verification callback succeeds.
func (s *Subscriber) RequestSubscription(ctx context.Context, key string) (string, error) {
	stream, err := s.activeStream(ctx, key)
	if err != nil {
		return "", err
	}

	doc, err := s.fetcher.Fetch(ctx, stream.URL, feed.Conditional{})
	if err != nil {
		return "", fmt.Errorf("failed to fetch feed for hub discovery: %w", err)
	}

	hubURL := doc.HubURL
	if hubURL == "" {
		logger.Info("No hub advertised", "stream", stream.StreamID, "url", stream.URL)
		return "", ErrNoHub
	}

	token := s.newToken()
	if err := s.streamRepo.SetSubscriptionRequest(ctx, stream.Key, hubURL, token); err != nil {
		return "", err
	}

	if err := s.sendRequest(ctx, ModeSubscribe, hubURL, stream, token); err != nil {
		return "", err
	}

	logger.Info("Subscription requested", "stream", stream.StreamID, "hub", hubURL)
	return hubURL, nil
}

// RequestUnsubscription asks the stored hub to stop pushing. The subscribed flag flips
// when the hub confirms.
func (s *Subscriber) RequestUnsubscription(ctx context.Context, key string) (string, error) {
	stream, err := s.activeStream(ctx, key)
	if err != nil {
		return "", err
	}
	if stream.HubURL == "" {
		return "", ErrNoHub
	}

	token := stream.VerifyToken
	if token == "" {
		token = s.newToken()
		if err := s.streamRepo.SetSubscriptionRequest(ctx, stream.Key, stream.HubURL, token); err != nil {
			return "", err
		}
	}

	if err := s.sendRequest(ctx, ModeUnsubscribe, stream.HubURL, stream, token); err != nil {
		return "", err
	}

	logger.Info("Unsubscription requested", "stream", stream.StreamID, "hub", stream.HubURL)
	return stream.HubURL, nil
}

// HandleVerification checks a hub verification callback and returns the challenge to echo.
func (s *Subscriber) HandleVerification(ctx context.Context, streamID string, req VerifyRequest) (string, error) {
	challenge, err := s.verify(ctx, streamID, req)
	metrics.HubCallbacks.WithLabelValues("verify", callbackResult(err)).Inc()
	if err != nil {
		logger.Warn("Hub verification failed", "stream", streamID, "mode", req.Mode, "error", err)
		return "", err
	}

	logger.Info("Hub verification accepted", "stream", streamID, "mode", req.Mode)
	return challenge, nil
}

func (s *Subscriber) verify(ctx context.Context, streamID string, req VerifyRequest) (string, error) {
	stream, err := s.activeStream(ctx, database.StreamKey(streamID))
	if err != nil {
		return "", err
	}
	if req.Challenge == "" {
		return "", ErrMissingChallenge
	}

	switch req.Mode {
	case ModeSubscribe:
		if stream.VerifyToken == "" || req.VerifyToken != stream.VerifyToken {
			return "", ErrVerificationRejected
		}
		if err := s.streamRepo.SetSubscribed(ctx, stream.Key, true); err != nil {
			return "", err
		}
	case ModeUnsubscribe:
		if err := s.streamRepo.SetSubscribed(ctx, stream.Key, false); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	return req.Challenge, nil
}

// HandleContentDistribution ingests a feed document pushed by the hub.
func (s *Subscriber) HandleContentDistribution(ctx context.Context, streamID string, body []byte) ([]database.Item, error) {
	items, err := s.distribute(ctx, streamID, body)
	metrics.HubCallbacks.WithLabelValues("content", callbackResult(err)).Inc()
	return items, err
}

func (s *Subscriber) distribute(ctx context.Context, streamID string, body []byte) ([]database.Item, error) {
	stream, err := s.activeStream(ctx, database.StreamKey(streamID))
	if err != nil {
		return nil, err
	}

	doc, err := s.parser.Parse(body)
	if err != nil {
		var malformed *feed.MalformedError
		if errors.As(err, &malformed) {
			logger.Error("Malformed pushed content", "stream", streamID, "line", malformed.Line, "error", malformed.Err)
		} else {
			logger.Error("Failed to parse pushed content", "stream", streamID, "error", err)
		}
		return nil, ErrMalformedContent
	}

	items, err := s.ingester.IngestEntries(ctx, *stream, doc.Entries, ingest.PathPush)
	if err != nil {
		return nil, err
	}

	logger.Info("Pushed content ingested", "stream", streamID, "entries", len(doc.Entries), "new", len(items))
	return items, nil
}

func (s *Subscriber) activeStream(ctx context.Context, key string) (*database.Stream, error) {
	stream, err := s.streamRepo.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	if stream == nil || stream.Deleted {
		return nil, ErrStreamNotFound
	}
	return stream, nil
}

func (s *Subscriber) callbackURL(streamID string) string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/callback/" + url.PathEscape(streamID)
}

func (s *Subscriber) sendRequest(ctx context.Context, mode, hubURL string, stream *database.Stream, token string) error {
	if s.opts.BaseURL == "" {
		return errors.New("base url not configured")
	}

	form := url.Values{
		"hub.callback":     {s.callbackURL(stream.StreamID)},
		"hub.mode":         {mode},
		"hub.topic":        {stream.URL},
		"hub.verify":       {"async"},
		"hub.verify_token": {token},
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cmp.Or(s.opts.RetryInterval, 500*time.Millisecond)
	policy.MaxInterval = 10 * time.Second

	operation := func() error {
		return s.post(ctx, hubURL, form)
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Hub request failed, retrying", "hub", hubURL, "mode", mode, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.MaxRetries), ctx), notify)
	if err != nil {
		return fmt.Errorf("hub %s request failed: %w", mode, err)
	}

	return nil
}

func (s *Subscriber) post(ctx context.Context, hubURL string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("hub responded %d", resp.StatusCode))
	default:
		return fmt.Errorf("hub responded %d", resp.StatusCode)
	}
}

func callbackResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStreamNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedContent):
		return "malformed"
	case errors.Is(err, ErrVerificationRejected), errors.Is(err, ErrMissingChallenge), errors.Is(err, ErrUnknownMode):
		return "rejected"
	default:
		return "error"
	}
}
