package memstore

import (
	"context"
	"sort"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// Next reuses the lowest released value, otherwise increments the counter
func (s *Store) Next(ctx context.Context, db ports.DBTX, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if released := s.data.released[scope]; len(released) > 0 {
		value := released[0]
		s.data.released[scope] = released[1:]
		return value, nil
	}

	value := s.current(scope)
	s.data.counters[scope] = value + 1
	return value, nil
}

// Release queues value for reuse
func (s *Store) Release(ctx context.Context, db ports.DBTX, scope string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.data.released[scope] {
		if v == value {
			return nil
		}
	}
	released := append(s.data.released[scope], value)
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	s.data.released[scope] = released
	return nil
}

// SetNext overwrites the counter
func (s *Store) SetNext(ctx context.Context, db ports.DBTX, scope string, value int64) error {
	if value <= 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "counter value must be positive").
			WithDetail("scope", scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.counters[scope] = value
	return nil
}

// Current returns the next value without consuming it
func (s *Store) Current(ctx context.Context, db ports.DBTX, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.current(scope)
	s.data.counters[scope] = value
	return value, nil
}

// Advance moves the counter from expected to expected+1
func (s *Store) Advance(ctx context.Context, db ports.DBTX, scope string, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current(scope) != expected {
		return domain.NewStaleCounterError(scope, expected)
	}
	s.data.counters[scope] = expected + 1
	return nil
}

// RecordGap audits a value that will never be printed
func (s *Store) RecordGap(ctx context.Context, db ports.DBTX, scope string, value int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.gaps = append(s.data.gaps, Gap{Scope: scope, Value: value, Reason: reason})
	return nil
}

// current reads a counter, defaulting to 1. Caller holds mu.
func (s *Store) current(scope string) int64 {
	if v, ok := s.data.counters[scope]; ok {
		return v
	}
	return 1
}
