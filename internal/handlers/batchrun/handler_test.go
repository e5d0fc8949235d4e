package batchrun

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-batch/internal/domain"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
)

type MockBatchRunService struct {
	mock.Mock
}

var _ serviceports.BatchRunService = (*MockBatchRunService)(nil)

func (m *MockBatchRunService) CreatePrintRun(ctx context.Context, req *serviceports.CreatePrintRunRequest) (*domain.PrintRun, error) {
	args := m.Called(ctx, req)
	run, _ := args.Get(0).(*domain.PrintRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) GetPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*domain.PrintRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) DispatchPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*domain.PrintRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) DecidePrintRun(ctx context.Context, runID uuid.UUID, allPrinted bool) (*domain.PrintRun, []*domain.PaymentDocument, error) {
	args := m.Called(ctx, runID, allPrinted)
	run, _ := args.Get(0).(*domain.PrintRun)
	docs, _ := args.Get(1).([]*domain.PaymentDocument)
	return run, docs, args.Error(2)
}

func (m *MockBatchRunService) ReviewPrintRun(ctx context.Context, runID uuid.UUID, printed []uuid.UUID) (*domain.PrintRun, error) {
	args := m.Called(ctx, runID, printed)
	run, _ := args.Get(0).(*domain.PrintRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) CancelPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*domain.PrintRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) PreviewEFT(ctx context.Context, bankAccountID uuid.UUID, count int) (*serviceports.EFTPreview, error) {
	args := m.Called(ctx, bankAccountID, count)
	preview, _ := args.Get(0).(*serviceports.EFTPreview)
	return preview, args.Error(1)
}

func (m *MockBatchRunService) CreateEFTRun(ctx context.Context, req *serviceports.CreateEFTRunRequest) (*domain.EFTRun, error) {
	args := m.Called(ctx, req)
	run, _ := args.Get(0).(*domain.EFTRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) GetEFTRun(ctx context.Context, runID uuid.UUID) (*domain.EFTRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*domain.EFTRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) DecideEFTRun(ctx context.Context, runID uuid.UUID, accept bool) (*domain.EFTRun, error) {
	args := m.Called(ctx, runID, accept)
	run, _ := args.Get(0).(*domain.EFTRun)
	return run, args.Error(1)
}

func (m *MockBatchRunService) MarkPrinted(ctx context.Context, paymentID uuid.UUID) error {
	return m.Called(ctx, paymentID).Error(0)
}

func setupHandler(t *testing.T) (*http.ServeMux, *MockBatchRunService) {
	t.Helper()
	svc := new(MockBatchRunService)
	mux := http.NewServeMux()
	NewHandler(svc, mocks.NewRecordingLogger()).Register(mux)
	t.Cleanup(func() { svc.AssertExpectations(t) })
	return mux, svc
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreatePrintRun(t *testing.T) {
	mux, svc := setupHandler(t)
	bankID := uuid.New()
	run := &domain.PrintRun{ID: uuid.New(), BankAccountID: bankID, State: domain.RunStateComposed, Numbers: []int64{101, 102}}

	svc.On("CreatePrintRun", mock.Anything, &serviceports.CreatePrintRunRequest{
		BankAccountID:  bankID,
		Count:          2,
		StartingNumber: 101,
	}).Return(run, nil)

	rec := do(mux, http.MethodPost, "/v1/print-runs",
		`{"bank_account_id":"`+bankID.String()+`","count":2,"starting_number":101}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.PrintRun
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, []int64{101, 102}, got.Numbers)
}

func TestCreatePrintRun_BadBody(t *testing.T) {
	mux, _ := setupHandler(t)

	rec := do(mux, http.MethodPost, "/v1/print-runs", `{"bank_account_id":"x","unknown":1}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeValidationFailed), decodeError(t, rec).Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{name: "not_found", err: domain.ErrRunNotFound, wantStatus: http.StatusNotFound, wantCode: domain.ErrorCodeRunNotFound},
		{name: "conflict", err: domain.ErrRunConflict, wantStatus: http.StatusConflict, wantCode: domain.ErrorCodeRunConflict},
		{name: "duplicate_number", err: domain.NewDuplicateNumberError("Acme Supply", 101), wantStatus: http.StatusConflict, wantCode: domain.ErrorCodeDuplicateNumber},
		{name: "empty_selection", err: domain.ErrSelectionEmpty, wantStatus: http.StatusUnprocessableEntity, wantCode: domain.ErrorCodeSelectionEmpty},
		{name: "render", err: domain.NewRenderError("Acme Supply", 101, errors.New("bad template")), wantStatus: http.StatusBadGateway, wantCode: domain.ErrorCodeRender},
		{name: "plain_error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: domain.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, svc := setupHandler(t)
			id := uuid.New()
			svc.On("GetPrintRun", mock.Anything, id).Return(nil, tt.err)

			rec := do(mux, http.MethodGet, "/v1/print-runs/"+id.String(), "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, rec).Code)
		})
	}
}

func TestInternalErrorHidesMessage(t *testing.T) {
	mux, svc := setupHandler(t)
	id := uuid.New()
	svc.On("CancelPrintRun", mock.Anything, id).Return(nil, errors.New("connection reset by peer"))

	rec := do(mux, http.MethodPost, "/v1/print-runs/"+id.String()+"/cancel", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestInvalidPathID(t *testing.T) {
	mux, _ := setupHandler(t)

	rec := do(mux, http.MethodPost, "/v1/print-runs/not-a-uuid/dispatch", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecidePrintRun(t *testing.T) {
	t.Run("returns_review_documents", func(t *testing.T) {
		mux, svc := setupHandler(t)
		id := uuid.New()
		run := &domain.PrintRun{ID: id, State: domain.RunStatePartiallyConfirmed}
		review := []*domain.PaymentDocument{{ID: uuid.New(), Number: 101}, {ID: uuid.New(), Number: 103}}
		svc.On("DecidePrintRun", mock.Anything, id, false).Return(run, review, nil)

		rec := do(mux, http.MethodPost, "/v1/print-runs/"+id.String()+"/decision", `{"all_printed":false}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var got PrintDecisionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, domain.RunStatePartiallyConfirmed, got.Run.State)
		require.Len(t, got.Review, 2)
		assert.Equal(t, int64(103), got.Review[1].Number)
	})

	t.Run("decision_required", func(t *testing.T) {
		mux, _ := setupHandler(t)

		rec := do(mux, http.MethodPost, "/v1/print-runs/"+uuid.NewString()+"/decision", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReviewPrintRun(t *testing.T) {
	mux, svc := setupHandler(t)
	id, printed := uuid.New(), uuid.New()
	svc.On("ReviewPrintRun", mock.Anything, id, []uuid.UUID{printed}).
		Return(&domain.PrintRun{ID: id, Reviewed: []uuid.UUID{printed}}, nil)

	rec := do(mux, http.MethodPost, "/v1/print-runs/"+id.String()+"/review", `{"printed":["`+printed.String()+`"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreviewEFT(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mux, svc := setupHandler(t)
		bankID := uuid.New()
		svc.On("PreviewEFT", mock.Anything, bankID, 5).Return(&serviceports.EFTPreview{
			BankAccountID: bankID, Eligible: 3, Skipped: 2, Warning: "2 payments skipped",
		}, nil)

		rec := do(mux, http.MethodGet, "/v1/bank-accounts/"+bankID.String()+"/eft-preview?count=5", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got serviceports.EFTPreview
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, 2, got.Skipped)
	})

	t.Run("bad_count", func(t *testing.T) {
		mux, _ := setupHandler(t)

		rec := do(mux, http.MethodGet, "/v1/bank-accounts/"+uuid.NewString()+"/eft-preview?count=-1", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateEFTRun_PartialNeedsConfirmation(t *testing.T) {
	mux, svc := setupHandler(t)
	bankID := uuid.New()
	svc.On("CreateEFTRun", mock.Anything, &serviceports.CreateEFTRunRequest{BankAccountID: bankID}).
		Return(nil, domain.NewDomainError(domain.ErrorCodeEFTPartial, "2 payments are not EFT-enabled"))

	rec := do(mux, http.MethodPost, "/v1/eft-runs", `{"bank_account_id":"`+bankID.String()+`"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeEFTPartial), decodeError(t, rec).Code)
}

func TestCreateEFTRun_OutputName(t *testing.T) {
	mux, svc := setupHandler(t)
	bankID := uuid.New()
	run := &domain.EFTRun{ID: uuid.New(), BankAccountID: bankID, State: domain.RunStateFileGenerated}
	svc.On("CreateEFTRun", mock.Anything, &serviceports.CreateEFTRunRequest{
		BankAccountID: bankID,
		OutputName:    "march/eft.csv",
	}).Return(run, nil)

	rec := do(mux, http.MethodPost, "/v1/eft-runs",
		`{"bank_account_id":"`+bankID.String()+`","output_name":"march/eft.csv"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateEFTRun_RejectsEscapingOutputName(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "absolute", body: `"output_name":"/etc/cron.d/job"`},
		{name: "parent", body: `"output_name":"../../var/lib/app.db"`},
		{name: "climbs_out", body: `"output_name":"eft/../../secrets"`},
		{name: "free_form_path", body: `"output_path":"/tmp/eft.csv"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, svc := setupHandler(t)

			rec := do(mux, http.MethodPost, "/v1/eft-runs",
				`{"bank_account_id":"`+uuid.NewString()+`",`+tt.body+`}`)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(domain.ErrorCodeValidationFailed), decodeError(t, rec).Code)
			svc.AssertNotCalled(t, "CreateEFTRun", mock.Anything, mock.Anything)
		})
	}
}

func TestDecideEFTRun(t *testing.T) {
	mux, svc := setupHandler(t)
	id := uuid.New()
	svc.On("DecideEFTRun", mock.Anything, id, true).Return(&domain.EFTRun{ID: id, State: domain.RunStateAccepted}, nil)

	rec := do(mux, http.MethodPost, "/v1/eft-runs/"+id.String()+"/decision", `{"accept":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.EFTRun
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, domain.RunStateAccepted, got.State)
}

func TestMarkPrinted(t *testing.T) {
	mux, svc := setupHandler(t)
	id := uuid.New()
	svc.On("MarkPrinted", mock.Anything, id).Return(nil)

	rec := do(mux, http.MethodPost, "/v1/payments/"+id.String()+"/printed", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := setupHandler(t)

	rec := do(mux, http.MethodDelete, "/v1/print-runs/"+uuid.NewString(), "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
