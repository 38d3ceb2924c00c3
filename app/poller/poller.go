package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/ingest"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/metrics"
)

var ErrStreamNotFound = errors.New("stream not found")

type CycleOutcome string

const (
	OutcomeDisabled CycleOutcome = "disabled"
	OutcomeIdle     CycleOutcome = "idle"
	OutcomePolled   CycleOutcome = "polled"
	OutcomeBusy     CycleOutcome = "busy"
)

type CycleResult struct {
	Outcome  CycleOutcome
	StreamID string
	NewItems int
	Err      error // fetch or ingest failure of the polled stream
}

type WakeResult string

const (
	WakeNotEnabled     WakeResult = "feed poller not enabled"
	WakeAlreadyRunning WakeResult = "feed poller already running"
	WakeStarted        WakeResult = "woke up feed poller"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, cond feed.Conditional) (*feed.Document, error)
}

type Ingester interface {
	IngestEntries(ctx context.Context, stream database.Stream, entries []feed.Entry, path ingest.Path) ([]database.Item, error)
}

type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleResult, error)
}

// Rearmer queues the next poll cycle.
type Rearmer interface {
	EnqueuePollCycle(runner CycleRunner) error
}

type Options struct {
	StalenessThreshold time.Duration
	LeaseTTL           time.Duration
}

// Poller polls one stream per cycle, always the one polled longest ago, and re-arms
// itself until every stream is fresher than the staleness threshold. A lease in
// storage keeps cycles single-flight on a best-effort basis.
type Poller struct {
	streamRepo database.StreamRepository
	stateRepo  database.PollerStateRepository
	config     *ConfigService
	fetcher    Fetcher
	ingester   Ingester
	rearmer    Rearmer
	threshold  time.Duration
	leaseTTL   time.Duration
	now        func() time.Time
}

func New(streamRepo database.StreamRepository, stateRepo database.PollerStateRepository,
	config *ConfigService, fetcher Fetcher, ingester Ingester, opts Options) *Poller {
	return &Poller{
		streamRepo: streamRepo,
		stateRepo:  stateRepo,
		config:     config,
		fetcher:    fetcher,
		ingester:   ingester,
		threshold:  opts.StalenessThreshold,
		leaseTTL:   opts.LeaseTTL,
		now:        time.Now,
	}
}

func (p *Poller) SetRearmer(rearmer Rearmer) {
	p.rearmer = rearmer
}

// RunCycle runs one cycle of the loop that owns the lease. Only queued cycles call it.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	enabled, err := p.config.IsEnabled(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	if !enabled {
		p.releaseLease(ctx)
		metrics.CyclesTotal.WithLabelValues(string(OutcomeDisabled)).Inc()
		logger.Info("Feed poller not enabled")
		return CycleResult{Outcome: OutcomeDisabled}, nil
	}

	stream, err := p.streamRepo.GetStalestStream(ctx)
	if err != nil {
		p.releaseLease(ctx)
		return CycleResult{}, fmt.Errorf("failed to select stream: %w", err)
	}

	now := p.now()
	if stream == nil || !stream.LastPolled.Before(now.Add(-p.threshold)) {
		p.releaseLease(ctx)
		metrics.CyclesTotal.WithLabelValues(string(OutcomeIdle)).Inc()
		if stream != nil {
			logger.Info("Putting feed poller to sleep", "stalest", stream.StreamID, "last_polled", stream.LastPolled)
		} else {
			logger.Info("Putting feed poller to sleep", "streams", 0)
		}
		return CycleResult{Outcome: OutcomeIdle}, nil
	}

	if err := p.stateRepo.RefreshLease(ctx, now, p.leaseTTL); err != nil {
		logger.Warn("Failed to refresh poller lease", "error", err)
	}

	result := p.poll(ctx, *stream)
	metrics.CyclesTotal.WithLabelValues(string(OutcomePolled)).Inc()

	p.rearm(ctx)

	return result, nil
}

// PollNow runs a cycle on behalf of a caller outside the loop. It takes the lease
// first and reports OutcomeBusy while another cycle holds it.
func (p *Poller) PollNow(ctx context.Context) (CycleResult, error) {
	enabled, err := p.config.IsEnabled(ctx)
	if err != nil {
		return CycleResult{}, err
	}
	if !enabled {
		metrics.CyclesTotal.WithLabelValues(string(OutcomeDisabled)).Inc()
		return CycleResult{Outcome: OutcomeDisabled}, nil
	}

	acquired, err := p.stateRepo.AcquireLease(ctx, p.now(), p.leaseTTL)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to acquire poller lease: %w", err)
	}
	if !acquired {
		metrics.CyclesTotal.WithLabelValues(string(OutcomeBusy)).Inc()
		logger.Debug("Feed poller already running")
		return CycleResult{Outcome: OutcomeBusy}, nil
	}

	result, err := p.RunCycle(ctx)
	if err != nil {
		p.releaseLease(ctx)
	}
	return result, err
}

// PollStream polls one stream immediately. It neither checks the staleness queue nor
// touches the lease.
func (p *Poller) PollStream(ctx context.Context, key string) (CycleResult, error) {
	stream, err := p.streamRepo.GetStream(ctx, key)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to get stream: %w", err)
	}
	if stream == nil || stream.Deleted {
		return CycleResult{}, ErrStreamNotFound
	}

	return p.poll(ctx, *stream), nil
}

// Wake starts the poll loop when it is enabled and no cycle holds the lease.
func (p *Poller) Wake(ctx context.Context) (WakeResult, error) {
	enabled, err := p.config.IsEnabled(ctx)
	if err != nil {
		return "", err
	}
	if !enabled {
		return WakeNotEnabled, nil
	}

	acquired, err := p.stateRepo.AcquireLease(ctx, p.now(), p.leaseTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		return WakeAlreadyRunning, nil
	}

	if p.rearmer == nil {
		p.releaseLease(ctx)
		return "", errors.New("poll queue not configured")
	}

	if err := p.rearmer.EnqueuePollCycle(p); err != nil {
		p.releaseLease(ctx)
		return "", fmt.Errorf("failed to enqueue poll cycle: %w", err)
	}

	logger.Info("Woke up feed poller")
	return WakeStarted, nil
}

func (p *Poller) Toggle(ctx context.Context) (bool, error) {
	return p.config.Toggle(ctx)
}

func (p *Poller) State(ctx context.Context) (*database.PollerState, error) {
	return p.stateRepo.GetPollerState(ctx)
}

func (p *Poller) poll(ctx context.Context, stream database.Stream) CycleResult {
	start := time.Now()
	result := CycleResult{Outcome: OutcomePolled, StreamID: stream.StreamID}

	cond := feed.Conditional{ETag: stream.HTTPETag, LastModified: stream.HTTPLastModified}
	doc, fetchErr := p.fetcher.Fetch(ctx, stream.URL, cond)

	update := database.PollUpdate{LastPolled: p.now().UTC()}
	if doc != nil {
		if doc.HasStatus {
			status := doc.Status
			update.HTTPStatus = &status
		}
		if doc.HasETag {
			etag := doc.ETag
			update.HTTPETag = &etag
		}
		if doc.HasLastModified {
			lastModified := doc.LastModified
			update.HTTPLastModified = &lastModified
		}
	}

	switch {
	case fetchErr != nil:
		result.Err = fetchErr
		metrics.PollsTotal.WithLabelValues("failed").Inc()
		logger.Error("Feed fetch failed", "stream", stream.StreamID, "url", stream.URL, "error", fetchErr)

	case doc.Status == http.StatusNotModified:
		metrics.PollsTotal.WithLabelValues("not_modified").Inc()

	default:
		items, err := p.ingester.IngestEntries(ctx, stream, doc.Entries, ingest.PathPoll)
		if err != nil {
			result.Err = err
			metrics.PollsTotal.WithLabelValues("failed").Inc()
			logger.Error("Feed ingest failed", "stream", stream.StreamID, "error", err)
		} else {
			result.NewItems = len(items)
			metrics.PollsTotal.WithLabelValues("ok").Inc()
		}
	}

	if err := p.streamRepo.RecordPoll(ctx, stream.Key, update); err != nil {
		logger.Error("Failed to record poll", "stream", stream.StreamID, "error", err)
		if result.Err == nil {
			result.Err = err
		}
	}

	metrics.PollDuration.Observe(time.Since(start).Seconds())
	logger.Info("Stream polled",
		"stream", stream.StreamID,
		"status", update.HTTPStatus,
		"new", result.NewItems,
		"duration", time.Since(start))

	return result
}

func (p *Poller) rearm(ctx context.Context) {
	if p.rearmer == nil {
		p.releaseLease(ctx)
		return
	}

	if err := p.rearmer.EnqueuePollCycle(p); err != nil {
		logger.Warn("Failed to re-arm feed poller", "error", err)
		p.releaseLease(ctx)
	}
}

func (p *Poller) releaseLease(ctx context.Context) {
	if err := p.stateRepo.ReleaseLease(ctx); err != nil {
		logger.Warn("Failed to release poller lease", "error", err)
	}
}
