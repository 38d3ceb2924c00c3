package api

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-streams/app/activity"
	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/poller"
	"github.com/lysyi3m/rss-streams/app/pshb"
)

const (
	maxContentSize = 5 << 20
	streamItemsMax = 20
)

func NewHandler(streamRepo database.StreamRepository, itemRepo database.ItemRepository,
	feedPoller PollerInterface, subscriber SubscriberInterface, resolver ResolverInterface, version string) *Handler {
	return &Handler{
		streamRepo: streamRepo,
		itemRepo:   itemRepo,
		poller:     feedPoller,
		subscriber: subscriber,
		resolver:   resolver,
		version:    version,
	}
}

func requestKey(c *gin.Context) string {
	return strings.TrimSpace(cmp.Or(c.PostForm("key"), c.Query("key")))
}

// Poll runs one poll cycle, or polls the stream named by key right away.
func (h *Handler) Poll(c *gin.Context) {
	ctx := c.Request.Context()

	if key := requestKey(c); key != "" {
		result, err := h.poller.PollStream(ctx, key)
		if errors.Is(err, poller.ErrStreamNotFound) {
			c.String(http.StatusNotFound, "stream not found")
			return
		}
		if err != nil {
			logger.Error("Poll failed", "key", key, "error", err)
			c.String(http.StatusInternalServerError, "poll failed")
			return
		}
		c.String(http.StatusOK, "polled %s (%d new items)", result.StreamID, result.NewItems)
		return
	}

	result, err := h.poller.PollNow(ctx)
	if err != nil {
		logger.Error("Poll cycle failed", "error", err)
		c.String(http.StatusInternalServerError, "poll failed")
		return
	}

	switch result.Outcome {
	case poller.OutcomeDisabled:
		c.String(http.StatusOK, "feed poller not enabled")
	case poller.OutcomeIdle:
		c.String(http.StatusOK, "putting feed poller to sleep")
	case poller.OutcomeBusy:
		c.String(http.StatusOK, "%s", string(poller.WakeAlreadyRunning))
	default:
		c.String(http.StatusOK, "polled %s (%d new items)", result.StreamID, result.NewItems)
	}
}

func (h *Handler) TogglePoller(c *gin.Context) {
	enabled, err := h.poller.Toggle(c.Request.Context())
	if err != nil {
		logger.Error("Failed to toggle poller", "error", err)
		c.String(http.StatusInternalServerError, "toggle failed")
		return
	}

	logger.Info("Feed poller toggled", "enabled", enabled)
	c.String(http.StatusOK, "enabled %t", enabled)
}

func (h *Handler) WakePoller(c *gin.Context) {
	result, err := h.poller.Wake(c.Request.Context())
	if err != nil {
		logger.Error("Failed to wake poller", "error", err)
		c.String(http.StatusInternalServerError, "wake failed")
		return
	}

	c.String(http.StatusOK, "%s", result)
}

func (h *Handler) Subscribe(c *gin.Context) {
	key := requestKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "missing key")
		return
	}

	_, err := h.subscriber.RequestSubscription(c.Request.Context(), key)
	switch {
	case errors.Is(err, pshb.ErrStreamNotFound):
		c.String(http.StatusNotFound, "stream not found")
	case errors.Is(err, pshb.ErrNoHub):
		c.String(http.StatusOK, "no hub found")
	case err != nil:
		logger.Error("Subscription request failed", "key", key, "error", err)
		c.String(http.StatusBadGateway, "subscription request failed")
	default:
		c.String(http.StatusOK, "sent subscription request")
	}
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	key := requestKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "missing key")
		return
	}

	_, err := h.subscriber.RequestUnsubscription(c.Request.Context(), key)
	switch {
	case errors.Is(err, pshb.ErrStreamNotFound):
		c.String(http.StatusNotFound, "stream not found")
	case errors.Is(err, pshb.ErrNoHub):
		c.String(http.StatusOK, "no hub found")
	case err != nil:
		logger.Error("Unsubscription request failed", "key", key, "error", err)
		c.String(http.StatusBadGateway, "unsubscription request failed")
	default:
		c.String(http.StatusOK, "sent unsubscription request")
	}
}

func (h *Handler) VerifyCallback(c *gin.Context) {
	streamID := c.Param("stream_id")

	challenge, err := h.subscriber.HandleVerification(c.Request.Context(), streamID, pshb.VerifyRequest{
		Mode:        c.Query("hub.mode"),
		Topic:       c.Query("hub.topic"),
		Challenge:   c.Query("hub.challenge"),
		VerifyToken: c.Query("hub.verify_token"),
	})
	switch {
	case errors.Is(err, pshb.ErrStreamNotFound):
		c.String(http.StatusNotFound, "stream not found")
	case errors.Is(err, pshb.ErrVerificationRejected),
		errors.Is(err, pshb.ErrMissingChallenge),
		errors.Is(err, pshb.ErrUnknownMode):
		c.String(http.StatusBadRequest, "%s", err.Error())
	case err != nil:
		logger.Error("Verification failed", "stream", streamID, "error", err)
		c.String(http.StatusInternalServerError, "verification failed")
	default:
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
	}
}

func (h *Handler) ContentCallback(c *gin.Context) {
	streamID := c.Param("stream_id")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxContentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "feed document too large")
			return
		}
		c.String(http.StatusBadRequest, "failed to read body")
		return
	}

	items, err := h.subscriber.HandleContentDistribution(c.Request.Context(), streamID, body)
	switch {
	case errors.Is(err, pshb.ErrStreamNotFound):
		c.String(http.StatusNotFound, "stream not found")
	case errors.Is(err, pshb.ErrMalformedContent):
		c.String(http.StatusInternalServerError, "malformed feed document")
	case err != nil:
		logger.Error("Content distribution failed", "stream", streamID, "error", err)
		c.String(http.StatusInternalServerError, "ingest failed")
	default:
		c.String(http.StatusOK, "%d new items", len(items))
	}
}

func (h *Handler) ListStreams(c *gin.Context) {
	streams, err := h.streamRepo.ListStreams(c.Request.Context())
	if err != nil {
		logger.Error("Database error", "operation", "list_streams", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	response := make([]StreamResponse, 0, len(streams))
	for _, stream := range streams {
		response = append(response, newStreamResponse(stream))
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": response,
		"total":   len(response),
	})
}

func (h *Handler) CreateStream(c *gin.Context) {
	ctx := c.Request.Context()

	var req StreamRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	req.StreamID = strings.TrimSpace(req.StreamID)
	if !feed.ValidStreamID(req.StreamID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stream_id"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url"})
		return
	}

	feedURL, err := h.resolver.Resolve(ctx, req.URL)
	if err != nil {
		logger.Warn("Failed to resolve feed url", "stream", req.StreamID, "url", req.URL, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "No feed found", "details": err.Error()})
		return
	}

	stream := &database.Stream{
		StreamID: req.StreamID,
		Title:    strings.TrimSpace(req.Title),
		URL:      feedURL,
		Format:   strings.TrimSpace(req.Format),
	}
	if err := h.streamRepo.CreateStream(ctx, stream); err != nil {
		if errors.Is(err, database.ErrStreamExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Stream already exists"})
			return
		}
		logger.Error("Database error", "operation", "create_stream", "stream", req.StreamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	logger.Info("Stream created", "stream", stream.StreamID, "url", stream.URL)
	h.wake(c)

	c.JSON(http.StatusCreated, newStreamResponse(*stream))
}

func (h *Handler) GetStream(c *gin.Context) {
	ctx := c.Request.Context()

	stream, ok := h.activeStream(c)
	if !ok {
		return
	}

	items, err := h.itemRepo.ListItems(ctx, stream.Key, streamItemsMax)
	if err != nil {
		logger.Error("Database error", "operation", "list_items", "stream", stream.StreamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	details := gin.H{
		"stream":   newStreamResponse(*stream),
		"activity": activity.NewUpdate(stream.StreamID, items),
	}

	if count, err := h.itemRepo.CountItems(ctx, stream.Key); err == nil {
		details["item_count"] = count
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) UpdateStream(c *gin.Context) {
	ctx := c.Request.Context()

	stream, ok := h.activeStream(c)
	if !ok {
		return
	}

	var req StreamRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	changes := database.StreamChanges{
		Title:  strings.TrimSpace(req.Title),
		Format: strings.TrimSpace(req.Format),
	}

	if rawURL := strings.TrimSpace(req.URL); rawURL != "" && rawURL != stream.URL {
		feedURL, err := h.resolver.Resolve(ctx, rawURL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No feed found", "details": err.Error()})
			return
		}
		changes.URL = feedURL
	}

	urlChanged, err := h.streamRepo.UpdateStream(ctx, stream.Key, changes)
	if err != nil {
		logger.Error("Database error", "operation", "update_stream", "stream", stream.StreamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if urlChanged {
		logger.Info("Stream URL changed", "stream", stream.StreamID, "url", changes.URL)
		h.wake(c)
	}

	updated, err := h.streamRepo.GetStream(ctx, stream.Key)
	if err != nil || updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, newStreamResponse(*updated))
}

// DeleteStream removes the stream's items before flagging it deleted.
func (h *Handler) DeleteStream(c *gin.Context) {
	ctx := c.Request.Context()

	stream, ok := h.activeStream(c)
	if !ok {
		return
	}

	removed, err := h.itemRepo.DeleteStreamItems(ctx, stream.Key)
	if err != nil {
		logger.Error("Database error", "operation", "delete_items", "stream", stream.StreamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if err := h.streamRepo.MarkDeleted(ctx, stream.Key); err != nil {
		logger.Error("Database error", "operation", "delete_stream", "stream", stream.StreamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	logger.Info("Stream deleted", "stream", stream.StreamID, "items", removed)

	c.JSON(http.StatusOK, gin.H{
		"deleted":       stream.StreamID,
		"items_removed": removed,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()

	health := map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if count, err := h.streamRepo.CountStreams(ctx); err == nil {
		health["streams"] = count
	}

	if state, err := h.poller.State(ctx); err == nil && state != nil {
		health["poller"] = map[string]interface{}{
			"enabled":          state.IsEnabled,
			"running":          state.LeaseActive(time.Now()),
			"lease_expires_at": state.LeaseExpiresAt,
		}
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) activeStream(c *gin.Context) (*database.Stream, bool) {
	streamID := c.Param("stream_id")

	stream, err := h.streamRepo.GetStream(c.Request.Context(), database.StreamKey(streamID))
	if err != nil {
		logger.Error("Database error", "operation", "get_stream", "stream", streamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if stream == nil || stream.Deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Stream %q not found", streamID)})
		return nil, false
	}

	return stream, true
}

func (h *Handler) wake(c *gin.Context) {
	result, err := h.poller.Wake(c.Request.Context())
	if err != nil {
		logger.Warn("Failed to wake poller", "error", err)
		return
	}
	logger.Debug("Poller wake", "result", string(result))
}
