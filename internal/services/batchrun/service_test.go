package batchrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/compose"
	"github.com/kevin07696/payment-batch/internal/services/eft"
	"github.com/kevin07696/payment-batch/internal/services/finalize"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
	"github.com/kevin07696/payment-batch/internal/services/reconcile"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/internal/testutil/fixtures"
	"github.com/kevin07696/payment-batch/internal/testutil/memstore"
	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTemplate string

func (t stubTemplate) ID() string { return string(t) }

// pageRenderer renders one page per payment plus one per two remittance lines beyond the first two
type pageRenderer struct{}

func (pageRenderer) LoadTemplate(ctx context.Context, id string) (ports.Template, error) {
	if id == "missing" {
		return nil, errors.New("template not found")
	}
	return stubTemplate(id), nil
}

func (pageRenderer) Render(ctx context.Context, tmpl ports.Template, params domain.RenderParams) ([]domain.Page, error) {
	n := 1
	if extra := len(params.Lines) - 2; extra > 0 {
		n += (extra + 1) / 2
	}
	out := make([]domain.Page, n)
	for i := range out {
		out[i] = domain.Page{Content: []byte(fmt.Sprintf("%s page %d", params.RecipientName, i+1))}
	}
	return out, nil
}

type recordingSpooler struct {
	jobs []*domain.PrintJob
	err  error
}

func (s *recordingSpooler) Spool(ctx context.Context, runID uuid.UUID, job *domain.PrintJob) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.jobs = append(s.jobs, job)
	return "spool/" + runID.String(), nil
}

type csvFormatter struct{}

func (csvFormatter) Name() string          { return "csv" }
func (csvFormatter) DefaultSuffix() string { return ".csv" }
func (csvFormatter) Format(ctx context.Context, req ports.EFTFormatRequest, emit func(string) error) error {
	for _, p := range req.Payments {
		if err := emit(p.RecipientName + "," + p.Amount.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

type formatters struct{}

func (formatters) Get(name string) (ports.EFTFormatter, error) { return csvFormatter{}, nil }

type staticSecrets struct{}

func (staticSecrets) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	return &ports.Secret{Value: "key"}, nil
}

// scriptedGate answers every operator question from fixed values
type scriptedGate struct {
	allPrinted     bool
	acceptPartial  bool
	acceptFile     bool
	reviewPrinted  func(docs []*domain.PaymentDocument) []uuid.UUID
	reviewedNumber []int64
}

func (g *scriptedGate) ConfirmAllPrinted(ctx context.Context, run *domain.PrintRun) (bool, error) {
	return g.allPrinted, nil
}

func (g *scriptedGate) Review(ctx context.Context, docs []*domain.PaymentDocument) ([]uuid.UUID, error) {
	for _, d := range docs {
		g.reviewedNumber = append(g.reviewedNumber, d.Number)
	}
	if g.reviewPrinted == nil {
		return nil, nil
	}
	return g.reviewPrinted(docs), nil
}

func (g *scriptedGate) ConfirmPartial(ctx context.Context, eligible, skipped int) (bool, error) {
	return g.acceptPartial, nil
}

func (g *scriptedGate) ConfirmFile(ctx context.Context, run *domain.EFTRun) (bool, error) {
	return g.acceptFile, nil
}

type serviceFixture struct {
	store   *memstore.Store
	spooler *recordingSpooler
	service *Service
	account *domain.BankAccount
	docs    []*domain.PaymentDocument
}

func setupService(t *testing.T, next int64, lines ...int) *serviceFixture {
	t.Helper()

	store := memstore.New()
	account := fixtures.NewBankAccount().WithNextPaymentNumber(next).WithACH(true).Build()
	store.AddBankAccount(account)

	base := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	names := []string{"Acme Supply", "Globex", "Initech", "Umbrella"}
	var docs []*domain.PaymentDocument
	for i, n := range lines {
		doc := fixtures.NewPayment(account.ID).
			WithRecipient(names[i%len(names)]).
			WithPaymentDate(base.AddDate(0, 0, i)).
			WithLines(n).
			WithACH(i%2 == 0).
			Build()
		store.AddPayment(doc)
		docs = append(docs, doc)
	}

	clock := timeutil.FixedClock{T: base}
	logger := mocks.NewRecordingLogger()
	alloc := sequence.NewAllocator(store, store, store, logger)
	expander := compose.NewContinuationExpander(alloc, store, clock, logger)
	composer := compose.NewComposer(alloc, expander, pageRenderer{}, store, clock, logger)
	finalizer := finalize.NewFinalizer(store, store, clock, logger)
	spooler := &recordingSpooler{}
	reconciler := reconcile.NewReconciler(store, store, spooler, finalizer, clock, logger)
	builder := eft.NewBuilder(store, store, alloc, formatters{}, staticSecrets{}, nil, finalizer, clock, logger,
		eft.Config{DefaultFormatter: "csv", OutputDir: t.TempDir(), KeyPath: "eft/%s"})

	svc := NewService(store, store, store.Accounts(), alloc, composer, reconciler, builder, finalizer, clock, logger,
		Config{DefaultTemplateID: "check"})

	return &serviceFixture{store: store, spooler: spooler, service: svc, account: account, docs: docs}
}

func (f *serviceFixture) printRequest() *serviceports.CreatePrintRunRequest {
	return &serviceports.CreatePrintRunRequest{BankAccountID: f.account.ID}
}

func TestRunPrint_AllPrinted(t *testing.T) {
	f := setupService(t, 101, 4, 1)
	gate := &scriptedGate{allPrinted: true}

	run, err := f.service.RunPrint(context.Background(), f.printRequest(), gate, gate)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateAllConfirmed, run.State)
	assert.Equal(t, []int64{101, 102, 103}, run.Numbers)
	assert.Len(t, run.Continuations, 1)
	require.Len(t, f.spooler.jobs, 1)
	assert.Equal(t, 3, f.spooler.jobs[0].PageCount())

	for _, d := range f.docs {
		assert.Equal(t, domain.DocumentStatusPrintedConfirmed, f.store.Payment(d.ID).Status)
	}
	marker := f.store.Payment(run.Continuations[0])
	assert.Equal(t, domain.DocumentStatusContinuation, marker.Status)
	assert.Equal(t, int64(102), marker.Number)

	account, err := f.store.Accounts().GetByID(context.Background(), nil, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(104), account.NextPaymentNumber)
}

func TestRunPrint_NotAllPrintedSendsOriginalsToReview(t *testing.T) {
	f := setupService(t, 101, 4, 1)
	gate := &scriptedGate{
		allPrinted: false,
		reviewPrinted: func(docs []*domain.PaymentDocument) []uuid.UUID {
			return []uuid.UUID{docs[0].ID}
		},
	}

	run, err := f.service.RunPrint(context.Background(), f.printRequest(), gate, gate)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatePartiallyConfirmed, run.State)
	assert.Equal(t, []int64{101, 103}, gate.reviewedNumber)
	assert.Equal(t, domain.DocumentStatusPrintedConfirmed, f.store.Payment(f.docs[0].ID).Status)
	assert.Equal(t, domain.DocumentStatusPrintedUnconfirmed, f.store.Payment(f.docs[1].ID).Status)

	// review closes the run, so the account is free again
	_, err = f.service.CreatePrintRun(context.Background(), f.printRequest())
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeSelectionEmpty))
}

func TestCreatePrintRun_OneActiveRunPerAccount(t *testing.T) {
	f := setupService(t, 1, 0, 0)
	ctx := context.Background()

	run, err := f.service.CreatePrintRun(ctx, &serviceports.CreatePrintRunRequest{BankAccountID: f.account.ID, Count: 1})
	require.NoError(t, err)

	_, err = f.service.CreatePrintRun(ctx, f.printRequest())
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeRunConflict))

	_, err = f.service.CreateEFTRun(ctx, &serviceports.CreateEFTRunRequest{BankAccountID: f.account.ID, AcceptPartial: true})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeRunConflict))

	_, err = f.service.CancelPrintRun(ctx, run.ID)
	require.NoError(t, err)

	_, err = f.service.CreatePrintRun(ctx, f.printRequest())
	assert.NoError(t, err)
}

func TestCreatePrintRun_FailureReleasesAccount(t *testing.T) {
	f := setupService(t, 1, 0)
	ctx := context.Background()

	_, err := f.service.CreatePrintRun(ctx, &serviceports.CreatePrintRunRequest{BankAccountID: f.account.ID, TemplateID: "missing"})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTemplateLoad))

	_, err = f.service.CreatePrintRun(ctx, f.printRequest())
	assert.NoError(t, err)
}

func TestCreatePrintRun_Validation(t *testing.T) {
	f := setupService(t, 1, 0)

	_, err := f.service.CreatePrintRun(context.Background(), &serviceports.CreatePrintRunRequest{})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = f.service.CreatePrintRun(context.Background(), &serviceports.CreatePrintRunRequest{BankAccountID: f.account.ID, Count: -1})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestCancelPrintRun_RecordsGapsAndKeepsCounter(t *testing.T) {
	f := setupService(t, 101, 4, 0)
	ctx := context.Background()

	run, err := f.service.CreatePrintRun(ctx, f.printRequest())
	require.NoError(t, err)
	require.Equal(t, []int64{101, 102, 103}, run.Numbers)

	cancelled, err := f.service.CancelPrintRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateCancelled, cancelled.State)

	for _, d := range f.docs {
		doc := f.store.Payment(d.ID)
		assert.Equal(t, domain.DocumentStatusUnnumbered, doc.Status)
		assert.Zero(t, doc.Number)
	}
	assert.Nil(t, f.store.Payment(run.Continuations[0]), "continuation row deleted")

	gaps := f.store.Gaps(domain.PaymentNumberScope(f.account.ID))
	require.Len(t, gaps, 3)
	assert.Equal(t, int64(101), gaps[0].Value)

	// numbers are not reused
	next, err := f.service.CreatePrintRun(ctx, f.printRequest())
	require.NoError(t, err)
	assert.Equal(t, []int64{104, 105, 106}, next.Numbers)
}

func TestCancelPrintRun_AfterDispatchRefused(t *testing.T) {
	f := setupService(t, 1, 0)
	ctx := context.Background()

	run, err := f.service.CreatePrintRun(ctx, f.printRequest())
	require.NoError(t, err)
	_, err = f.service.DispatchPrintRun(ctx, run.ID)
	require.NoError(t, err)

	_, err = f.service.CancelPrintRun(ctx, run.ID)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeRunInvalidState))
}

func TestRunPrint_SpoolFailureCancels(t *testing.T) {
	f := setupService(t, 10, 0)
	f.spooler.err = errors.New("printer offline")
	gate := &scriptedGate{allPrinted: true}

	run, err := f.service.RunPrint(context.Background(), f.printRequest(), gate, gate)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeSpool))
	assert.Equal(t, domain.RunStateCancelled, run.State)
	assert.Equal(t, domain.DocumentStatusUnnumbered, f.store.Payment(f.docs[0].ID).Status)
}

func TestGetRun_NotFound(t *testing.T) {
	f := setupService(t, 1)

	_, err := f.service.GetPrintRun(context.Background(), uuid.New())
	assert.True(t, domain.IsNotFoundError(err))

	_, err = f.service.GetEFTRun(context.Background(), uuid.New())
	assert.True(t, domain.IsNotFoundError(err))
}

func TestRunEFT(t *testing.T) {
	tests := []struct {
		name          string
		gate          scriptedGate
		wantNil       bool
		wantState     domain.RunState
		wantFinalized domain.DocumentStatus
	}{
		{
			name:    "partial_declined",
			gate:    scriptedGate{acceptPartial: false},
			wantNil: true,
		},
		{
			name:          "accepted",
			gate:          scriptedGate{acceptPartial: true, acceptFile: true},
			wantState:     domain.RunStateAccepted,
			wantFinalized: domain.DocumentStatusPrintedConfirmed,
		},
		{
			name:          "rejected",
			gate:          scriptedGate{acceptPartial: true, acceptFile: false},
			wantState:     domain.RunStateRejected,
			wantFinalized: domain.DocumentStatusUnnumbered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t, 1, 0, 0, 0)
			gate := tt.gate

			run, err := f.service.RunEFT(context.Background(), &serviceports.CreateEFTRunRequest{BankAccountID: f.account.ID}, &gate)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, run)
				return
			}

			assert.Equal(t, tt.wantState, run.State)
			assert.Len(t, run.Documents, 2)
			assert.Len(t, run.Skipped, 1)
			for _, id := range run.Documents {
				assert.Equal(t, tt.wantFinalized, f.store.Payment(id).Status)
			}
			assert.Equal(t, domain.DocumentStatusUnnumbered, f.store.Payment(f.docs[1].ID).Status)

			_, statErr := os.Stat(run.FilePath)
			if tt.wantState == domain.RunStateRejected {
				assert.True(t, errors.Is(statErr, os.ErrNotExist))
			} else {
				assert.NoError(t, statErr)
			}
		})
	}
}

func TestCreateEFTRun_PartialNeedsConfirmation(t *testing.T) {
	f := setupService(t, 1, 0, 0)
	ctx := context.Background()

	_, err := f.service.CreateEFTRun(ctx, &serviceports.CreateEFTRunRequest{BankAccountID: f.account.ID})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEFTPartial))

	preview, err := f.service.PreviewEFT(ctx, f.account.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Eligible)
	assert.Equal(t, 1, preview.Skipped)
	assert.NotEmpty(t, preview.Warning)

	run, err := f.service.CreateEFTRun(ctx, &serviceports.CreateEFTRunRequest{BankAccountID: f.account.ID, AcceptPartial: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateFileGenerated, run.State)
	assert.Equal(t, "1", f.store.Payment(f.docs[0].ID).ACHBatch)
}

func TestMarkPrinted(t *testing.T) {
	f := setupService(t, 1, 0)
	ctx := context.Background()
	dispatched := fixtures.NewPayment(f.account.ID).WithNumber(77).WithStatus(domain.DocumentStatusPrintedUnconfirmed).Build()
	f.store.AddPayment(dispatched)

	require.NoError(t, f.service.MarkPrinted(ctx, dispatched.ID))
	require.NoError(t, f.service.MarkPrinted(ctx, dispatched.ID))
	assert.Equal(t, domain.DocumentStatusPrintedConfirmed, f.store.Payment(dispatched.ID).Status)

	// a numbered check that was never dispatched cannot be posted
	numbered := fixtures.NewPayment(f.account.ID).WithNumber(78).Build()
	f.store.AddPayment(numbered)
	err := f.service.MarkPrinted(ctx, numbered.ID)
	require.Error(t, err)
	assert.True(t, domain.IsConflictError(err))
	assert.Equal(t, domain.DocumentStatusNumbered, f.store.Payment(numbered.ID).Status)

	err = f.service.MarkPrinted(ctx, uuid.New())
	assert.True(t, domain.IsNotFoundError(err))
}

func TestCreateEFTRun_OutputNameStaysInOutputDir(t *testing.T) {
	f := setupService(t, 1, 0, 0)
	ctx := context.Background()

	_, err := f.service.CreateEFTRun(ctx, &serviceports.CreateEFTRunRequest{
		BankAccountID: f.account.ID,
		AcceptPartial: true,
		OutputName:    "../escaped.csv",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
	assert.Equal(t, domain.DocumentStatusUnnumbered, f.store.Payment(f.docs[0].ID).Status)

	run, err := f.service.CreateEFTRun(ctx, &serviceports.CreateEFTRunRequest{
		BankAccountID: f.account.ID,
		AcceptPartial: true,
		OutputName:    "named.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "named.csv", filepath.Base(run.FilePath))
	_, err = os.Stat(run.FilePath)
	assert.NoError(t, err)
}
