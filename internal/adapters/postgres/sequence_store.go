package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// SequenceStore implements ports.SequenceStore on the sequence_counters table.
// Each operation is a single statement so concurrent runs never interleave a read and a write.
type SequenceStore struct {
	pool ports.DBTX
}

// NewSequenceStore creates a new counter store
func NewSequenceStore(db ports.DBPort) *SequenceStore {
	return &SequenceStore{pool: db.GetDB()}
}

// Next reuses the lowest released value of scope, otherwise increments the counter
func (s *SequenceStore) Next(ctx context.Context, db ports.DBTX, scope string) (int64, error) {
	q := querier(db, s.pool)

	var value int64
	err := q.QueryRow(ctx, `
		DELETE FROM sequence_releases
		WHERE (scope, value) = (
			SELECT scope, value FROM sequence_releases
			WHERE scope = $1
			ORDER BY value
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING value`, scope).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("reuse released %s value: %w", scope, err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO sequence_counters (scope, next_value, updated_at)
		VALUES ($1, 2, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET next_value = sequence_counters.next_value + 1, updated_at = NOW()
		RETURNING next_value - 1`, scope).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advance %s counter: %w", scope, err)
	}
	return value, nil
}

// Release makes value available to the next Next call on scope
func (s *SequenceStore) Release(ctx context.Context, db ports.DBTX, scope string, value int64) error {
	_, err := querier(db, s.pool).Exec(ctx, `
		INSERT INTO sequence_releases (scope, value) VALUES ($1, $2)
		ON CONFLICT (scope, value) DO NOTHING`, scope, value)
	if err != nil {
		return fmt.Errorf("release %s value %d: %w", scope, value, err)
	}
	return nil
}

// SetNext overwrites the next value of scope
func (s *SequenceStore) SetNext(ctx context.Context, db ports.DBTX, scope string, value int64) error {
	if value <= 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "counter value must be positive").
			WithDetail("scope", scope).
			WithDetail("value", value)
	}
	_, err := querier(db, s.pool).Exec(ctx, `
		INSERT INTO sequence_counters (scope, next_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET next_value = EXCLUDED.next_value, updated_at = NOW()`, scope, value)
	if err != nil {
		return fmt.Errorf("set %s counter: %w", scope, err)
	}
	return nil
}

// Current returns the next value of scope, creating the counter at 1
func (s *SequenceStore) Current(ctx context.Context, db ports.DBTX, scope string) (int64, error) {
	var value int64
	err := querier(db, s.pool).QueryRow(ctx, `
		INSERT INTO sequence_counters (scope, next_value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (scope) DO UPDATE SET scope = EXCLUDED.scope
		RETURNING next_value`, scope).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read %s counter: %w", scope, err)
	}
	return value, nil
}

// Advance moves scope from expected to expected+1 in one compare-and-swap
func (s *SequenceStore) Advance(ctx context.Context, db ports.DBTX, scope string, expected int64) error {
	tag, err := querier(db, s.pool).Exec(ctx, `
		UPDATE sequence_counters
		SET next_value = next_value + 1, updated_at = NOW()
		WHERE scope = $1 AND next_value = $2`, scope, expected)
	if err != nil {
		return fmt.Errorf("advance %s counter: %w", scope, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewStaleCounterError(scope, expected)
	}
	return nil
}

// RecordGap audits a value that was issued but never printed
func (s *SequenceStore) RecordGap(ctx context.Context, db ports.DBTX, scope string, value int64, reason string) error {
	_, err := querier(db, s.pool).Exec(ctx, `
		INSERT INTO sequence_gaps (scope, value, reason) VALUES ($1, $2, $3)`, scope, value, reason)
	if err != nil {
		return fmt.Errorf("record %s gap %d: %w", scope, value, err)
	}
	return nil
}
