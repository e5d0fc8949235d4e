// Package batchrun drives operator print and EFT runs through their two-phase workflow.
package batchrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/compose"
	"github.com/kevin07696/payment-batch/internal/services/eft"
	"github.com/kevin07696/payment-batch/internal/services/finalize"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
	"github.com/kevin07696/payment-batch/internal/services/reconcile"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/samber/lo"
)

// Config holds run defaults
type Config struct {
	DefaultTemplateID string
	// MaxRunSize caps Count; zero means unbounded
	MaxRunSize int
}

type printEntry struct {
	run         *domain.PrintRun
	reservation *sequence.Reservation
	mu          sync.Mutex
}

type eftEntry struct {
	run *domain.EFTRun
	mu  sync.Mutex
}

// Service implements serviceports.BatchRunService.
// Runs live in process memory; at most one open run per bank account.
type Service struct {
	db         ports.TransactionManager
	payments   ports.PaymentRepository
	accounts   ports.BankAccountRepository
	allocator  *sequence.Allocator
	composer   *compose.Composer
	reconciler *reconcile.Reconciler
	eft        *eft.Builder
	finalizer  *finalize.Finalizer
	clock      timeutil.Clock
	logger     ports.Logger
	validate   *validator.Validate
	printRuns  map[uuid.UUID]*printEntry
	eftRuns    map[uuid.UUID]*eftEntry
	active     map[uuid.UUID]uuid.UUID
	cfg        Config
	mu         sync.Mutex
}

var _ serviceports.BatchRunService = (*Service)(nil)

// NewService creates a new batch run service
func NewService(
	db ports.TransactionManager,
	payments ports.PaymentRepository,
	accounts ports.BankAccountRepository,
	allocator *sequence.Allocator,
	composer *compose.Composer,
	reconciler *reconcile.Reconciler,
	eftBuilder *eft.Builder,
	finalizer *finalize.Finalizer,
	clock timeutil.Clock,
	logger ports.Logger,
	cfg Config,
) *Service {
	return &Service{
		db:         db,
		payments:   payments,
		accounts:   accounts,
		allocator:  allocator,
		composer:   composer,
		reconciler: reconciler,
		eft:        eftBuilder,
		finalizer:  finalizer,
		clock:      clock,
		logger:     logger,
		validate:   validator.New(),
		printRuns:  make(map[uuid.UUID]*printEntry),
		eftRuns:    make(map[uuid.UUID]*eftEntry),
		active:     make(map[uuid.UUID]uuid.UUID),
		cfg:        cfg,
	}
}

// CreatePrintRun selects up to Count unprinted payments and composes them into one print job
func (s *Service) CreatePrintRun(ctx context.Context, req *serviceports.CreatePrintRunRequest) (*domain.PrintRun, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	limit, err := s.limit(req.Count)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	if err := s.claim(req.BankAccountID, runID); err != nil {
		return nil, err
	}

	run, err := s.composePrintRun(ctx, runID, req, limit)
	if err != nil {
		s.unclaim(req.BankAccountID, runID)
		observability.RecordBatchRun(string(domain.RunKindPrint), string(domain.RunStateFailed))
		return nil, err
	}
	return run, nil
}

func (s *Service) composePrintRun(ctx context.Context, runID uuid.UUID, req *serviceports.CreatePrintRunRequest, limit int) (*domain.PrintRun, error) {
	account, err := s.accounts.GetByID(ctx, nil, req.BankAccountID)
	if err != nil {
		return nil, err
	}

	docs, err := s.payments.ListUnprinted(ctx, nil, account.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("select unprinted payments: %w", err)
	}
	if len(docs) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeSelectionEmpty, "no unprinted payments selected").
			WithDetail("bank_account_id", account.ID.String())
	}

	templateID := req.TemplateID
	if templateID == "" {
		templateID = s.cfg.DefaultTemplateID
	}

	sel := &domain.BatchSelection{
		Documents:      docs,
		BankAccountID:  account.ID,
		StartingNumber: req.StartingNumber,
	}
	result, err := s.composer.Compose(ctx, account, sel, templateID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	run := &domain.PrintRun{
		ID:            runID,
		BankAccountID: account.ID,
		TemplateID:    templateID,
		State:         domain.RunStateComposed,
		Job:           result.Job,
		Documents:     documentIDs(result.Documents),
		Continuations: documentIDs(result.Continuations),
		Numbers:       result.Reservation.Issued(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.printRuns[run.ID] = &printEntry{run: run, reservation: result.Reservation}
	s.mu.Unlock()

	observability.RecordBatchRun(string(domain.RunKindPrint), string(run.State))
	s.logger.Info("print run composed",
		ports.String("run_id", run.ID.String()),
		ports.String("bank_account_id", account.ID.String()),
		ports.Int("payments", len(run.Documents)),
		ports.Int("pages", run.Job.PageCount()))
	return run, nil
}

// GetPrintRun returns a print run known to this process
func (s *Service) GetPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	entry, err := s.printEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.run, nil
}

// DispatchPrintRun hands the composed job to the spooler
func (s *Service) DispatchPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	entry, err := s.printEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.reconciler.Dispatch(ctx, entry.run); err != nil {
		return nil, err
	}
	return entry.run, nil
}

// DecidePrintRun records the operator's answer. On no, the originals are returned for review
// and the bank account stays claimed until ReviewPrintRun is called.
func (s *Service) DecidePrintRun(ctx context.Context, runID uuid.UUID, allPrinted bool) (*domain.PrintRun, []*domain.PaymentDocument, error) {
	entry, err := s.printEntry(runID)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	review, err := s.reconciler.Decide(ctx, entry.run, allPrinted)
	if err != nil {
		return nil, nil, err
	}
	if entry.run.State.IsTerminal() {
		s.unclaim(entry.run.BankAccountID, entry.run.ID)
	}
	return entry.run, review, nil
}

// ReviewPrintRun finalizes the confirmed subset and closes the review.
// Payments left out stay flagged for review.
func (s *Service) ReviewPrintRun(ctx context.Context, runID uuid.UUID, printed []uuid.UUID) (*domain.PrintRun, error) {
	entry, err := s.printEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.reconciler.Review(ctx, entry.run, printed); err != nil {
		return nil, err
	}
	s.unclaim(entry.run.BankAccountID, entry.run.ID)
	return entry.run, nil
}

// CancelPrintRun abandons a composed run before dispatch. Every number it allocated is recorded
// as a gap, the payments go back to unnumbered and its continuation markers are deleted.
// The counter is not rewound.
func (s *Service) CancelPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	entry, err := s.printEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	run := entry.run
	if run.State != domain.RunStateComposed {
		return nil, domain.NewDomainError(domain.ErrorCodeRunInvalidState,
			fmt.Sprintf("only composed runs can be cancelled, run is %s", run.State)).
			WithDetail("run_id", run.ID.String())
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.clock.Now()
		for _, id := range run.Documents {
			doc, err := s.payments.GetByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := doc.Apply(domain.EventReleaseNumber); err != nil {
				return err
			}
			doc.UpdatedAt = now
			if err := s.payments.Update(ctx, tx, doc); err != nil {
				return err
			}
		}
		for _, id := range run.Continuations {
			if err := s.payments.Delete(ctx, tx, id); err != nil {
				return err
			}
		}
		return s.allocator.RecordGaps(ctx, tx, entry.reservation, run.Numbers, "cancelled run "+run.ID.String())
	})
	if err != nil {
		s.logger.Error("print run cancel failed",
			ports.String("run_id", run.ID.String()),
			ports.Err(err))
		return nil, fmt.Errorf("cancel print run: %w", err)
	}

	run.State = domain.RunStateCancelled
	run.Job = nil
	run.UpdatedAt = s.clock.Now()
	s.unclaim(run.BankAccountID, run.ID)

	observability.RecordBatchRun(string(domain.RunKindPrint), string(run.State))
	observability.RecordSequenceGaps(len(run.Numbers))
	s.logger.Warn("print run cancelled, numbers recorded as gaps",
		ports.String("run_id", run.ID.String()),
		ports.Any("numbers", run.Numbers))
	return run, nil
}

// PreviewEFT reports how many unprinted payments an EFT run would include
func (s *Service) PreviewEFT(ctx context.Context, bankAccountID uuid.UUID, count int) (*serviceports.EFTPreview, error) {
	limit, err := s.limit(count)
	if err != nil {
		return nil, err
	}
	account, elig, err := s.eftEligibility(ctx, bankAccountID, limit)
	if err != nil {
		return nil, err
	}
	return &serviceports.EFTPreview{
		BankAccountID: account.ID,
		Eligible:      len(elig.Eligible),
		Skipped:       len(elig.Skipped),
		Warning:       elig.Warning,
	}, nil
}

// CreateEFTRun checks eligibility and writes the EFT file. A partial batch needs AcceptPartial.
// When generation fails the run is kept in the failed state alongside the error.
func (s *Service) CreateEFTRun(ctx context.Context, req *serviceports.CreateEFTRunRequest) (*domain.EFTRun, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	limit, err := s.limit(req.Count)
	if err != nil {
		return nil, err
	}
	outputPath := req.OutputPath
	if req.OutputName != "" {
		if outputPath, err = s.eft.OutputPathFor(req.OutputName); err != nil {
			return nil, err
		}
	}

	runID := uuid.New()
	if err := s.claim(req.BankAccountID, runID); err != nil {
		return nil, err
	}

	account, elig, err := s.eftEligibility(ctx, req.BankAccountID, limit)
	if err != nil {
		s.unclaim(req.BankAccountID, runID)
		return nil, err
	}
	if elig.Partial() && !req.AcceptPartial {
		s.unclaim(req.BankAccountID, runID)
		return nil, domain.NewDomainError(domain.ErrorCodeEFTPartial, elig.Warning).
			WithDetail("eligible", len(elig.Eligible)).
			WithDetail("skipped", len(elig.Skipped))
	}

	now := s.clock.Now()
	run := &domain.EFTRun{
		ID:            runID,
		BankAccountID: account.ID,
		State:         domain.RunStateEligible,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mu.Lock()
	s.eftRuns[run.ID] = &eftEntry{run: run}
	s.mu.Unlock()

	if err := s.eft.Generate(ctx, run, account, elig, outputPath); err != nil {
		s.unclaim(account.ID, run.ID)
		return run, err
	}
	return run, nil
}

// GetEFTRun returns an EFT run
func (s *Service) GetEFTRun(ctx context.Context, runID uuid.UUID) (*domain.EFTRun, error) {
	entry, err := s.eftEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.run, nil
}

// DecideEFTRun accepts or rejects a generated file
func (s *Service) DecideEFTRun(ctx context.Context, runID uuid.UUID, accept bool) (*domain.EFTRun, error) {
	entry, err := s.eftEntry(runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if accept {
		err = s.eft.Accept(ctx, entry.run)
	} else {
		err = s.eft.Reject(ctx, entry.run)
	}
	if err != nil {
		return nil, err
	}
	s.unclaim(entry.run.BankAccountID, entry.run.ID)
	return entry.run, nil
}

// MarkPrinted finalizes one payment outside of any run
func (s *Service) MarkPrinted(ctx context.Context, paymentID uuid.UUID) error {
	return s.finalizer.MarkPrinted(ctx, paymentID)
}

func (s *Service) eftEligibility(ctx context.Context, bankAccountID uuid.UUID, count int) (*domain.BankAccount, *eft.Eligibility, error) {
	account, err := s.accounts.GetByID(ctx, nil, bankAccountID)
	if err != nil {
		return nil, nil, err
	}
	unprinted, err := s.payments.ListUnprinted(ctx, nil, account.ID, count)
	if err != nil {
		return nil, nil, fmt.Errorf("select unprinted payments: %w", err)
	}
	elig, err := s.eft.CheckEligibility(account, unprinted)
	if err != nil {
		return nil, nil, err
	}
	return account, elig, nil
}

func (s *Service) claim(bankAccountID, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.active[bankAccountID]; ok {
		return domain.NewDomainError(domain.ErrorCodeRunConflict, "another batch run is active for this bank account").
			WithDetail("bank_account_id", bankAccountID.String()).
			WithDetail("active_run_id", current.String())
	}
	s.active[bankAccountID] = runID
	return nil
}

func (s *Service) unclaim(bankAccountID, runID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[bankAccountID] == runID {
		delete(s.active, bankAccountID)
	}
}

func (s *Service) printEntry(runID uuid.UUID) (*printEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.printRuns[runID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeRunNotFound, "print run not found").
			WithDetail("run_id", runID.String())
	}
	return entry, nil
}

func (s *Service) eftEntry(runID uuid.UUID) (*eftEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.eftRuns[runID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeRunNotFound, "EFT run not found").
			WithDetail("run_id", runID.String())
	}
	return entry, nil
}

func (s *Service) validateRequest(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "invalid run request", err)
	}
	return nil
}

// limit resolves the selection bound, applying MaxRunSize when the operator asked for everything
func (s *Service) limit(count int) (int, error) {
	if s.cfg.MaxRunSize <= 0 {
		return count, nil
	}
	if count > s.cfg.MaxRunSize {
		return 0, domain.NewDomainError(domain.ErrorCodeValidationFailed, "count exceeds the maximum run size").
			WithDetail("count", count).
			WithDetail("max", s.cfg.MaxRunSize)
	}
	if count == 0 {
		return s.cfg.MaxRunSize, nil
	}
	return count, nil
}

func documentIDs(docs []*domain.PaymentDocument) []uuid.UUID {
	return lo.Map(docs, func(d *domain.PaymentDocument, _ int) uuid.UUID { return d.ID })
}
