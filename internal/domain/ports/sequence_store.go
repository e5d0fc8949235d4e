package ports

import "context"

// SequenceStore is the persistent counter service. Every method is a single atomic statement
// against the store; callers never read a value and write it back themselves.
type SequenceStore interface {
	// Next hands out the next value of scope. Released values are reused lowest first.
	Next(ctx context.Context, db DBTX, scope string) (int64, error)

	// Release returns a value obtained from Next so the following Next call reuses it
	Release(ctx context.Context, db DBTX, scope string, value int64) error

	// SetNext overwrites the next value of scope
	SetNext(ctx context.Context, db DBTX, scope string, value int64) error

	// Current returns the next value without consuming it, starting new scopes at 1
	Current(ctx context.Context, db DBTX, scope string) (int64, error)

	// Advance moves scope from expected to expected+1 and fails with a stale counter error
	// when the stored value is no longer expected
	Advance(ctx context.Context, db DBTX, scope string, expected int64) error

	// RecordGap audits a value that was issued but will never be printed
	RecordGap(ctx context.Context, db DBTX, scope string, value int64, reason string) error
}
