package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lysyi3m/rss-streams/app/database"
)

// ConfigService serves the poller toggle from memory and re-reads storage once the
// cached value is older than ttl.
type ConfigService struct {
	state database.PollerStateRepository
	ttl   time.Duration
	now   func() time.Time

	mu          sync.Mutex
	enabled     bool
	refreshedAt time.Time
	loaded      bool
}

func NewConfigService(state database.PollerStateRepository, ttl time.Duration) *ConfigService {
	return &ConfigService{
		state: state,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *ConfigService) IsEnabled(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.now().Sub(c.refreshedAt) < c.ttl {
		return c.enabled, nil
	}

	return c.refresh(ctx)
}

// Toggle flips the stored value and returns the new state.
func (c *ConfigService) Toggle(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.refresh(ctx)
	if err != nil {
		return false, err
	}

	if err := c.state.SetPollerEnabled(ctx, !current); err != nil {
		return false, fmt.Errorf("failed to toggle poller: %w", err)
	}

	c.enabled = !current
	c.refreshedAt = c.now()
	c.loaded = true

	return c.enabled, nil
}

// Invalidate forces the next IsEnabled call to read storage.
func (c *ConfigService) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
}

func (c *ConfigService) refresh(ctx context.Context) (bool, error) {
	state, err := c.state.GetPollerState(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read poller config: %w", err)
	}

	c.enabled = state != nil && state.IsEnabled
	c.refreshedAt = c.now()
	c.loaded = true

	return c.enabled, nil
}
