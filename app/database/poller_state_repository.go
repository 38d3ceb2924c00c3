package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ PollerStateRepository = (*PollerStateStore)(nil)

const pollerStateID = 1

// PollerStateStore keeps the process-wide poller toggle and the poll-cycle lease in a
// single row. The lease is a compare-and-set on that row and only advisory.
type PollerStateStore struct {
	db *DB
}

func NewPollerStateStore(db *DB) *PollerStateStore {
	return &PollerStateStore{db: db}
}

// EnsurePollerState creates the state row on a fresh database. An existing row is kept.
func (r *PollerStateStore) EnsurePollerState(ctx context.Context, enabled bool) error {
	ib := r.db.flavor.NewInsertBuilder()
	ib.InsertInto("poller_state").
		Cols("id", "is_enabled", "is_running", "lease_expires_at", "updated_at").
		Values(pollerStateID, enabled, false, nil, time.Now().UTC())
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query+" ON CONFLICT DO NOTHING", args...); err != nil {
		return fmt.Errorf("failed to initialize poller state: %w", err)
	}

	return nil
}

func (r *PollerStateStore) GetPollerState(ctx context.Context) (*PollerState, error) {
	sb := r.db.flavor.NewSelectBuilder()
	sb.Select("is_enabled", "is_running", "lease_expires_at", "updated_at").
		From("poller_state").
		Where(sb.Equal("id", pollerStateID))
	query, args := sb.Build()

	var state PollerState
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&state.IsEnabled, &state.IsRunning, &state.LeaseExpiresAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poller state: %w", err)
	}

	return &state, nil
}

func (r *PollerStateStore) SetPollerEnabled(ctx context.Context, enabled bool) error {
	if err := r.EnsurePollerState(ctx, enabled); err != nil {
		return err
	}

	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("poller_state").Set(
		ub.Assign("is_enabled", enabled),
		ub.Assign("updated_at", time.Now().UTC()),
	).Where(ub.Equal("id", pollerStateID))
	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to set poller enabled: %w", err)
	}

	return nil
}

// AcquireLease marks the poller running until now+ttl unless another unexpired lease exists.
func (r *PollerStateStore) AcquireLease(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()

	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("poller_state").Set(
		ub.Assign("is_running", true),
		ub.Assign("lease_expires_at", now.Add(ttl)),
		ub.Assign("updated_at", now),
	).Where(
		ub.Equal("id", pollerStateID),
		ub.Or(
			ub.Equal("is_running", false),
			ub.IsNull("lease_expires_at"),
			ub.LessThan("lease_expires_at", now),
		),
	)
	query, args := ub.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to acquire poller lease: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire poller lease: %w", err)
	}

	return affected == 1, nil
}

// RefreshLease extends the lease of a running cycle.
func (r *PollerStateStore) RefreshLease(ctx context.Context, now time.Time, ttl time.Duration) error {
	now = now.UTC()

	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("poller_state").Set(
		ub.Assign("is_running", true),
		ub.Assign("lease_expires_at", now.Add(ttl)),
		ub.Assign("updated_at", now),
	).Where(ub.Equal("id", pollerStateID))
	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to refresh poller lease: %w", err)
	}

	return nil
}

// ReleaseLease clears the running flag. Releasing a free lease is a no-op.
func (r *PollerStateStore) ReleaseLease(ctx context.Context) error {
	ub := r.db.flavor.NewUpdateBuilder()
	ub.Update("poller_state").Set(
		ub.Assign("is_running", false),
		ub.Assign("lease_expires_at", nil),
		ub.Assign("updated_at", time.Now().UTC()),
	).Where(ub.Equal("id", pollerStateID))
	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release poller lease: %w", err)
	}

	return nil
}
