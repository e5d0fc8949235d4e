package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	p.id, p.bank_account_id, p.recipient_id, r.name, r.recipient_type, r.ach_enabled,
	r.routing_number, r.account_number, p.amount, p.currency, p.payment_date,
	p.description, p.number, p.status, p.ach_batch, p.continuation_of,
	p.created_at, p.updated_at`

const paymentFrom = `
	FROM payment_documents p
	JOIN recipients r ON r.id = p.recipient_id`

// PaymentRepository implements ports.PaymentRepository with pgx
type PaymentRepository struct {
	pool ports.DBTX
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{pool: db.GetDB()}
}

// GetByID retrieves a payment document with its remittance lines
func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.PaymentDocument, error) {
	q := querier(db, r.pool)

	row := q.QueryRow(ctx, `SELECT `+paymentColumns+paymentFrom+` WHERE p.id = $1`, id)
	doc, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrorCodeDocNotFound, "payment document not found").
				WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("get payment by id: %w", err)
	}

	if err := r.loadLines(ctx, q, []*domain.PaymentDocument{doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListUnprinted returns selectable payments in selection order
func (r *PaymentRepository) ListUnprinted(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID, limit int) ([]*domain.PaymentDocument, error) {
	q := querier(db, r.pool)

	sql := `SELECT ` + paymentColumns + paymentFrom + `
		WHERE p.bank_account_id = $1 AND p.status IN ('unnumbered', 'numbered')
		ORDER BY p.payment_date, p.created_at, p.id`
	args := []interface{}{bankAccountID}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}

	docs, err := r.query(ctx, q, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list unprinted payments: %w", err)
	}
	if err := r.loadLines(ctx, q, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FindNumberHolders returns non-deleted payments holding a number in [from, to)
func (r *PaymentRepository) FindNumberHolders(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID, from, to int64) ([]*domain.PaymentDocument, error) {
	docs, err := r.query(ctx, querier(db, r.pool), `SELECT `+paymentColumns+paymentFrom+`
		WHERE p.bank_account_id = $1
		  AND p.number >= $2 AND p.number < $3
		  AND p.status NOT IN ('voided', 'continuation')
		ORDER BY p.number`, bankAccountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("find number holders: %w", err)
	}
	return docs, nil
}

// ListByACHBatch returns the payments carrying an EFT batch id
func (r *PaymentRepository) ListByACHBatch(ctx context.Context, db ports.DBTX, achBatch string) ([]*domain.PaymentDocument, error) {
	docs, err := r.query(ctx, querier(db, r.pool), `SELECT `+paymentColumns+paymentFrom+`
		WHERE p.ach_batch = $1
		ORDER BY p.payment_date, p.created_at, p.id`, achBatch)
	if err != nil {
		return nil, fmt.Errorf("list payments by ach batch: %w", err)
	}
	return docs, nil
}

// Create inserts a payment document. Continuation markers carry no remittance lines.
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, doc *domain.PaymentDocument) error {
	q := querier(tx, r.pool)

	amount, err := decimalToNumeric(doc.Amount)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payment_documents (
			id, bank_account_id, recipient_id, amount, currency, payment_date, description,
			number, status, ach_batch, continuation_of, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		doc.ID, doc.BankAccountID, doc.RecipientID, amount, doc.Currency, doc.PaymentDate,
		nullText(doc.Description), nullInt8(doc.Number), string(doc.Status), nullText(doc.ACHBatch),
		nullUUID(doc.ContinuationOf), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", numberConflict(err, doc.Number))
	}

	for i, line := range doc.Lines {
		lineAmount, err := decimalToNumeric(line.Amount)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO payment_lines (payment_id, line_no, reference, description, amount)
			VALUES ($1, $2, $3, $4, $5)`,
			doc.ID, i+1, line.Reference, nullText(line.Description), lineAmount); err != nil {
			return fmt.Errorf("create payment line: %w", err)
		}
	}
	return nil
}

// Update persists status, number and EFT batch
func (r *PaymentRepository) Update(ctx context.Context, tx ports.DBTX, doc *domain.PaymentDocument) error {
	tag, err := querier(tx, r.pool).Exec(ctx, `
		UPDATE payment_documents
		SET number = $2, status = $3, ach_batch = $4, updated_at = $5
		WHERE id = $1`,
		doc.ID, nullInt8(doc.Number), string(doc.Status), nullText(doc.ACHBatch), doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", numberConflict(err, doc.Number))
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeDocNotFound, "payment document not found").
			WithDetail("id", doc.ID.String())
	}
	return nil
}

// Delete removes a continuation marker
func (r *PaymentRepository) Delete(ctx context.Context, tx ports.DBTX, id uuid.UUID) error {
	tag, err := querier(tx, r.pool).Exec(ctx,
		`DELETE FROM payment_documents WHERE id = $1 AND status = 'continuation'`, id)
	if err != nil {
		return fmt.Errorf("delete continuation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeDocNotFound, "continuation marker not found").
			WithDetail("id", id.String())
	}
	return nil
}

// SumOutstanding totals unposted, non-deleted payments on the account
func (r *PaymentRepository) SumOutstanding(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := querier(db, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_documents
		WHERE bank_account_id = $1
		  AND status IN ('unnumbered', 'numbered', 'printed_unconfirmed')`, bankAccountID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding payments: %w", err)
	}
	return pgNumericToDecimal(total)
}

func (r *PaymentRepository) query(ctx context.Context, q ports.DBTX, sql string, args ...interface{}) ([]*domain.PaymentDocument, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.PaymentDocument
	for rows.Next() {
		doc, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PaymentRepository) loadLines(ctx context.Context, q ports.DBTX, docs []*domain.PaymentDocument) error {
	if len(docs) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.PaymentDocument, len(docs))
	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT payment_id, reference, description, amount
		FROM payment_lines
		WHERE payment_id = ANY($1)
		ORDER BY payment_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("load payment lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			paymentID   uuid.UUID
			reference   string
			description pgtype.Text
			amount      pgtype.Numeric
		)
		if err := rows.Scan(&paymentID, &reference, &description, &amount); err != nil {
			return fmt.Errorf("scan payment line: %w", err)
		}
		dec, err := pgNumericToDecimal(amount)
		if err != nil {
			return err
		}
		doc := byID[paymentID]
		doc.Lines = append(doc.Lines, domain.RemittanceLine{
			Reference:   reference,
			Description: description.String,
			Amount:      dec,
		})
	}
	return rows.Err()
}

func scanPayment(row pgx.Row) (*domain.PaymentDocument, error) {
	var (
		doc            domain.PaymentDocument
		recipientType  string
		routingNumber  pgtype.Text
		accountNumber  pgtype.Text
		amount         pgtype.Numeric
		paymentDate    time.Time
		description    pgtype.Text
		number         pgtype.Int8
		status         string
		achBatch       pgtype.Text
		continuationOf pgtype.UUID
	)

	if err := row.Scan(
		&doc.ID, &doc.BankAccountID, &doc.RecipientID, &doc.RecipientName, &recipientType,
		&doc.RecipientACHEnabled, &routingNumber, &accountNumber, &amount, &doc.Currency,
		&paymentDate, &description, &number, &status, &achBatch, &continuationOf,
		&doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	dec, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, err
	}

	doc.Amount = dec
	doc.RecipientType = domain.RecipientType(recipientType)
	doc.RecipientRoutingNumber = routingNumber.String
	doc.RecipientAccountNumber = accountNumber.String
	doc.PaymentDate = paymentDate.UTC()
	doc.Description = description.String
	doc.Number = number.Int64
	doc.Status = domain.DocumentStatus(status)
	doc.ACHBatch = achBatch.String
	doc.ContinuationOf = uuidPtr(continuationOf)
	return &doc, nil
}
