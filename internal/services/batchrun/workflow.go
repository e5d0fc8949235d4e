package batchrun

import (
	"context"
	"fmt"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
)

// RunPrint drives a print run end to end, blocking on the operator gate and the reviewer
func (s *Service) RunPrint(
	ctx context.Context,
	req *serviceports.CreatePrintRunRequest,
	gate ports.PrintDecisionGate,
	reviewer ports.Reviewer,
) (*domain.PrintRun, error) {
	run, err := s.CreatePrintRun(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.DispatchPrintRun(ctx, run.ID); err != nil {
		if _, cancelErr := s.CancelPrintRun(ctx, run.ID); cancelErr != nil {
			s.logger.Error("cancel after failed dispatch",
				ports.String("run_id", run.ID.String()),
				ports.Err(cancelErr))
		}
		return run, err
	}

	allPrinted, err := gate.ConfirmAllPrinted(ctx, run)
	if err != nil {
		return run, fmt.Errorf("print confirmation: %w", err)
	}

	run, review, err := s.DecidePrintRun(ctx, run.ID, allPrinted)
	if err != nil || allPrinted {
		return run, err
	}

	printed, err := reviewer.Review(ctx, review)
	if err != nil {
		return run, fmt.Errorf("review: %w", err)
	}
	return s.ReviewPrintRun(ctx, run.ID, printed)
}

// RunEFT drives an EFT run end to end. A declined partial batch returns a nil run and no error.
func (s *Service) RunEFT(
	ctx context.Context,
	req *serviceports.CreateEFTRunRequest,
	gate ports.EFTDecisionGate,
) (*domain.EFTRun, error) {
	preview, err := s.PreviewEFT(ctx, req.BankAccountID, req.Count)
	if err != nil {
		return nil, err
	}

	if preview.Skipped > 0 && !req.AcceptPartial {
		proceed, err := gate.ConfirmPartial(ctx, preview.Eligible, preview.Skipped)
		if err != nil {
			return nil, fmt.Errorf("partial EFT confirmation: %w", err)
		}
		if !proceed {
			s.logger.Info("partial EFT batch declined",
				ports.String("bank_account_id", req.BankAccountID.String()))
			return nil, nil
		}
		accepted := *req
		accepted.AcceptPartial = true
		req = &accepted
	}

	run, err := s.CreateEFTRun(ctx, req)
	if err != nil {
		return run, err
	}

	accept, err := gate.ConfirmFile(ctx, run)
	if err != nil {
		return run, fmt.Errorf("EFT file confirmation: %w", err)
	}
	return s.DecideEFTRun(ctx, run.ID, accept)
}
