package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation    = "23505"
	accountNumberIndex = "idx_payment_documents_account_number"
)

// numberConflict converts a unique violation on the account number index into a
// duplicate number error; any other error is returned unchanged.
func numberConflict(err error, number int64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == accountNumberIndex {
		return domain.WrapError(domain.ErrorCodeDuplicateNumber,
			fmt.Sprintf("payment number %d is already held", number), err).
			WithDetail("number", number)
	}
	return err
}

// querier picks the caller's transaction when present, falling back to the pool
func querier(db ports.DBTX, fallback ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return fallback
}

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// nullInt8 maps the zero payment number to NULL
func nullInt8(v int64) pgtype.Int8 {
	if v == 0 {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: v, Valid: true}
}

// nullUUID maps a nil pointer to NULL
func nullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

// uuidPtr converts a nullable pgtype.UUID back to a pointer
func uuidPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

// decimalToNumeric converts a decimal amount for insertion
func decimalToNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert amount: %w", err)
	}
	return n, nil
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	var dec decimal.Decimal
	if !n.Valid {
		return decimal.Zero, nil
	}
	str, err := n.MarshalJSON()
	if err != nil {
		return dec, fmt.Errorf("marshal numeric: %w", err)
	}
	// Remove quotes from JSON string
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	return decimal.NewFromString(string(str))
}
