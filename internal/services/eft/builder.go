package eft

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/finalize"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/samber/lo"
)

// Config holds installation-level EFT settings
type Config struct {
	DefaultFormatter string
	OutputDir        string
	// KeyPath is a fmt pattern receiving the bank account id, e.g. "payment-batch/eft/%s/key"
	KeyPath string
	// ArchivePrefix is prepended to archive object keys
	ArchivePrefix string
}

// Eligibility splits an unprinted set into payments that can go out by EFT and those that cannot
type Eligibility struct {
	Eligible []*domain.PaymentDocument
	Skipped  []*domain.PaymentDocument
	Warning  string
}

// Partial reports whether some payments will be left for printing
func (e *Eligibility) Partial() bool {
	return len(e.Skipped) > 0
}

// Builder produces EFT batch files and finalizes or unwinds them on the operator's decision
type Builder struct {
	db         ports.TransactionManager
	payments   ports.PaymentRepository
	allocator  *sequence.Allocator
	formatters ports.EFTFormatterRegistry
	secrets    ports.SecretManager
	archiver   ports.FileArchiver
	finalizer  *finalize.Finalizer
	clock      timeutil.Clock
	logger     ports.Logger
	cfg        Config
}

// NewBuilder creates a new EFT builder. archiver may be nil.
func NewBuilder(
	db ports.TransactionManager,
	payments ports.PaymentRepository,
	allocator *sequence.Allocator,
	formatters ports.EFTFormatterRegistry,
	secrets ports.SecretManager,
	archiver ports.FileArchiver,
	finalizer *finalize.Finalizer,
	clock timeutil.Clock,
	logger ports.Logger,
	cfg Config,
) *Builder {
	return &Builder{
		db:         db,
		payments:   payments,
		allocator:  allocator,
		formatters: formatters,
		secrets:    secrets,
		archiver:   archiver,
		finalizer:  finalizer,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// CheckEligibility requires an EFT-enabled account and at least one EFT-enabled recipient
func (b *Builder) CheckEligibility(account *domain.BankAccount, unprinted []*domain.PaymentDocument) (*Eligibility, error) {
	if !account.ACHEnabled {
		return nil, domain.NewDomainError(domain.ErrorCodeEFTNotEnabled, "bank account is not enabled for EFT").
			WithDetail("bank_account_id", account.ID.String())
	}

	eligible, skipped := lo.FilterReject(unprinted, func(d *domain.PaymentDocument, _ int) bool {
		return d.EFTEligible()
	})
	if len(eligible) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeEFTNoRecipients,
			"no EFT-enabled recipient in the unprinted payments").
			WithDetail("bank_account_id", account.ID.String())
	}

	elig := &Eligibility{Eligible: eligible, Skipped: skipped}
	if elig.Partial() {
		names := lo.Uniq(lo.Map(skipped, func(d *domain.PaymentDocument, _ int) string { return d.RecipientName }))
		elig.Warning = fmt.Sprintf("%d of %d payments have recipients without EFT and will stay unprinted: %v",
			len(skipped), len(unprinted), names)
	}
	return elig, nil
}

// FormatterFor resolves the formatter configured for account
func (b *Builder) FormatterFor(account *domain.BankAccount) (ports.EFTFormatter, error) {
	name := account.EFTFormatter
	if name == "" {
		name = b.cfg.DefaultFormatter
	}
	return b.formatters.Get(name)
}

// OutputPathFor resolves a caller-supplied file name inside the output directory.
// Absolute names and names that climb out of the directory are rejected.
func (b *Builder) OutputPathFor(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"output name must be a relative path inside the EFT output directory").
			WithDetail("output_name", name)
	}
	return filepath.Join(b.cfg.OutputDir, name), nil
}

// Generate reserves a batch id, provisionally marks the eligible payments and writes the file.
// outputPath overrides the default eft<batchId><suffix> in the output directory; an existing file
// at that path fails the run instead of being overwritten.
// Any failure after the reservation unwinds everything and leaves the run failed.
func (b *Builder) Generate(ctx context.Context, run *domain.EFTRun, account *domain.BankAccount, elig *Eligibility, outputPath string) error {
	if run.State != domain.RunStateEligible {
		return invalidState(run, domain.RunStateEligible)
	}
	start := time.Now()

	formatter, err := b.FormatterFor(account)
	if err != nil {
		return err
	}
	run.Formatter = formatter.Name()

	batchID, err := b.allocator.ReserveBatchID(ctx)
	if err != nil {
		return err
	}
	run.BatchID = batchID
	run.Skipped = lo.Map(elig.Skipped, func(d *domain.PaymentDocument, _ int) uuid.UUID { return d.ID })
	run.Warning = elig.Warning

	marked, err := b.markProvisional(ctx, batchID, elig.Eligible)
	if err != nil {
		if relErr := b.allocator.ReleaseBatchID(ctx, batchID); relErr != nil {
			err = errors.Join(err, relErr)
		}
		run.State = domain.RunStateFailed
		return fmt.Errorf("mark payments for EFT batch %d: %w", batchID, err)
	}
	run.Documents = lo.Map(marked, func(d *domain.PaymentDocument, _ int) uuid.UUID { return d.ID })

	if outputPath == "" {
		outputPath = filepath.Join(b.cfg.OutputDir, fmt.Sprintf("eft%d%s", batchID, formatter.DefaultSuffix()))
	}

	lines, genErr := b.writeFile(ctx, run, account, formatter, marked, outputPath)
	if genErr != nil {
		outcome := "file_error"
		if domain.IsDomainError(genErr, domain.ErrorCodeFormatter) {
			outcome = "formatter_error"
		}
		observability.RecordEFTBatch(run.Formatter, outcome)

		if err := b.unwind(ctx, run); err != nil {
			genErr = errors.Join(genErr, err)
		}
		run.State = domain.RunStateFailed
		run.UpdatedAt = b.clock.Now()
		observability.RecordBatchRun(string(domain.RunKindEFT), string(run.State))
		b.logger.Error("EFT generation failed, batch unwound",
			ports.String("run_id", run.ID.String()),
			ports.Int64("batch_id", batchID),
			ports.Err(genErr))
		return genErr
	}

	run.LineCount = lines
	run.State = domain.RunStateFileGenerated
	run.UpdatedAt = b.clock.Now()
	observability.RecordEFTBatch(run.Formatter, "generated")
	observability.RecordEFTLines(run.Formatter, lines)
	observability.RecordBatchDuration(string(domain.RunKindEFT), time.Since(start).Seconds())

	b.logger.Info("EFT file generated",
		ports.String("run_id", run.ID.String()),
		ports.Int64("batch_id", batchID),
		ports.String("path", outputPath),
		ports.Int("payments", len(marked)),
		ports.Int("lines", lines))
	return nil
}

// Accept finalizes every payment in the batch and archives the file when an archiver is configured.
// Archive failures are logged and never undo an accepted batch.
func (b *Builder) Accept(ctx context.Context, run *domain.EFTRun) error {
	if run.State != domain.RunStateFileGenerated {
		return invalidState(run, domain.RunStateFileGenerated)
	}

	if _, err := b.finalizer.MarkAllPrinted(ctx, run.Documents, "eft"); err != nil {
		return fmt.Errorf("finalize EFT batch %d: %w", run.BatchID, err)
	}

	run.State = domain.RunStateAccepted
	run.UpdatedAt = b.clock.Now()
	observability.RecordEFTBatch(run.Formatter, "accepted")
	observability.RecordBatchRun(string(domain.RunKindEFT), string(run.State))
	b.logger.Info("EFT batch accepted",
		ports.String("run_id", run.ID.String()),
		ports.Int64("batch_id", run.BatchID))

	if b.archiver != nil {
		b.archive(ctx, run)
	}
	return nil
}

// Reject unwinds the batch after the operator found the file incorrect
func (b *Builder) Reject(ctx context.Context, run *domain.EFTRun) error {
	if run.State != domain.RunStateFileGenerated {
		return invalidState(run, domain.RunStateFileGenerated)
	}

	if err := b.unwind(ctx, run); err != nil {
		return err
	}

	run.State = domain.RunStateRejected
	run.UpdatedAt = b.clock.Now()
	observability.RecordEFTBatch(run.Formatter, "rejected")
	observability.RecordBatchRun(string(domain.RunKindEFT), string(run.State))
	b.logger.Warn("EFT batch rejected",
		ports.String("run_id", run.ID.String()),
		ports.Int64("batch_id", run.BatchID))
	return nil
}

// markProvisional dispatches every eligible payment into the batch in one transaction
func (b *Builder) markProvisional(ctx context.Context, batchID int64, eligible []*domain.PaymentDocument) ([]*domain.PaymentDocument, error) {
	batch := strconv.FormatInt(batchID, 10)
	marked := make([]*domain.PaymentDocument, 0, len(eligible))

	err := b.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := b.clock.Now()
		for _, d := range eligible {
			doc, err := b.payments.GetByID(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			if !doc.EFTEligible() {
				return domain.NewDomainError(domain.ErrorCodeDocInvalidTransition,
					"payment changed since it was selected").
					WithDetail("payment_id", doc.ID.String()).
					WithDetail("status", string(doc.Status))
			}
			if err := doc.Apply(domain.EventDispatch); err != nil {
				return err
			}
			doc.ACHBatch = batch
			doc.UpdatedAt = now
			if err := b.payments.Update(ctx, tx, doc); err != nil {
				return err
			}
			marked = append(marked, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// fileWriteError marks errors raised while writing a line, as opposed to by the formatter
type fileWriteError struct {
	err error
}

func (e *fileWriteError) Error() string { return e.err.Error() }
func (e *fileWriteError) Unwrap() error { return e.err }

// writeFile creates path exclusively and streams the formatter's lines into it
func (b *Builder) writeFile(
	ctx context.Context,
	run *domain.EFTRun,
	account *domain.BankAccount,
	formatter ports.EFTFormatter,
	payments []*domain.PaymentDocument,
	path string,
) (int, error) {
	secret, err := b.secrets.GetSecret(ctx, fmt.Sprintf(b.cfg.KeyPath, account.ID))
	if err != nil {
		return 0, domain.WrapError(domain.ErrorCodeEFTKeyUnavailable, "EFT encryption key unavailable", err).
			WithDetail("batch_id", run.BatchID)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, domain.NewFileWriteError(path, run.BatchID, err)
	}
	run.FilePath = path
	w := bufio.NewWriter(f)

	lines := 0
	req := ports.EFTFormatRequest{
		CreatedAt:   b.clock.Now(),
		BankAccount: account,
		Payments:    payments,
		Key:         []byte(secret.Value),
		BatchID:     run.BatchID,
	}
	fmtErr := formatter.Format(ctx, req, func(line string) error {
		if _, err := w.WriteString(line); err != nil {
			return &fileWriteError{err: err}
		}
		if err := w.WriteByte('\n'); err != nil {
			return &fileWriteError{err: err}
		}
		lines++
		return nil
	})

	flushErr := w.Flush()
	closeErr := f.Close()

	var writeErr *fileWriteError
	switch {
	case errors.As(fmtErr, &writeErr):
		return 0, domain.NewFileWriteError(path, run.BatchID, writeErr.err)
	case fmtErr != nil:
		return 0, domain.NewFormatterError(formatter.Name(), run.BatchID, fmtErr)
	case flushErr != nil:
		return 0, domain.NewFileWriteError(path, run.BatchID, flushErr)
	case closeErr != nil:
		return 0, domain.NewFileWriteError(path, run.BatchID, closeErr)
	}
	return lines, nil
}

// unwind reverts every payment still provisionally carrying the batch id, releases the batch id and deletes the output file.
// run.FilePath is only set once writeFile created the file, so a pre-existing file is never removed.
func (b *Builder) unwind(ctx context.Context, run *domain.EFTRun) error {
	batch := strconv.FormatInt(run.BatchID, 10)

	var errs []error
	err := b.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		members, err := b.payments.ListByACHBatch(ctx, tx, batch)
		if err != nil {
			return err
		}
		now := b.clock.Now()
		for _, doc := range members {
			if !doc.NeedsReview() {
				continue
			}
			if err := doc.Apply(domain.EventRevert); err != nil {
				return err
			}
			doc.UpdatedAt = now
			if err := b.payments.Update(ctx, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("revert payments: %w", err))
	}

	if err := b.allocator.ReleaseBatchID(ctx, run.BatchID); err != nil {
		errs = append(errs, err)
	}

	if run.FilePath != "" {
		if err := os.Remove(run.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove EFT file: %w", err))
		}
	}

	if len(errs) > 0 {
		b.logger.Error("EFT unwind incomplete",
			ports.String("run_id", run.ID.String()),
			ports.Int64("batch_id", run.BatchID),
			ports.Err(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

func (b *Builder) archive(ctx context.Context, run *domain.EFTRun) {
	f, err := os.Open(run.FilePath)
	if err != nil {
		b.logger.Warn("EFT archive skipped, file unreadable",
			ports.String("path", run.FilePath),
			ports.Err(err))
		return
	}
	defer f.Close()

	key := fmt.Sprintf("%s%s/%s", b.cfg.ArchivePrefix, run.BankAccountID, filepath.Base(run.FilePath))
	location, err := b.archiver.Archive(ctx, key, f)
	if err != nil {
		b.logger.Warn("EFT archive failed",
			ports.String("run_id", run.ID.String()),
			ports.String("key", key),
			ports.Err(err))
		return
	}
	run.ArchiveKey = location
}

func invalidState(run *domain.EFTRun, want domain.RunState) error {
	return domain.NewDomainError(domain.ErrorCodeRunInvalidState,
		fmt.Sprintf("EFT run is %s, expected %s", run.State, want)).
		WithDetail("run_id", run.ID.String())
}
