package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/metrics"
)

// Notifier posts new items to the activity endpoint. Delivery is attempted once and
// failures are only reported to the caller.
type Notifier struct {
	httpClient *http.Client
	endpoint   string // may contain {stream_id}
	apiKey     string
	authToken  string
	userAgent  string
	timeout    time.Duration
}

func NewNotifier(httpClient *http.Client, endpoint, apiKey, authToken, userAgent string, timeout time.Duration) *Notifier {
	return &Notifier{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     apiKey,
		authToken:  authToken,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

func (n *Notifier) Notify(ctx context.Context, streamID string, items []database.Item) error {
	if len(items) == 0 {
		return nil
	}

	if n.endpoint == "" {
		logger.Debug("Activity endpoint not configured, skipping notification", "stream", streamID, "items", len(items))
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	body, err := json.Marshal(NewUpdate(streamID, items))
	if err != nil {
		return fmt.Errorf("failed to encode activity update: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, n.endpointFor(streamID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)
	if n.apiKey != "" || n.authToken != "" {
		req.SetBasicAuth(n.apiKey, n.authToken)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to post activity: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("activity endpoint returned HTTP %d", resp.StatusCode)
	}

	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	logger.Info("Activity delivered", "stream", streamID, "items", len(items), "status", resp.StatusCode)

	return nil
}

func (n *Notifier) endpointFor(streamID string) string {
	return strings.ReplaceAll(n.endpoint, "{stream_id}", url.PathEscape(streamID))
}
