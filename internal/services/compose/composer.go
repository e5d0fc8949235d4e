package compose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
)

// Result is a composed print job plus the payments it numbered
type Result struct {
	Job           *domain.PrintJob
	Reservation   *sequence.Reservation
	Documents     []*domain.PaymentDocument
	Continuations []*domain.PaymentDocument
}

// Composer numbers and renders a selection into one print job
type Composer struct {
	allocator *sequence.Allocator
	expander  *ContinuationExpander
	renderer  ports.DocumentRenderer
	payments  ports.PaymentRepository
	clock     timeutil.Clock
	logger    ports.Logger
}

// NewComposer creates a new composer
func NewComposer(
	allocator *sequence.Allocator,
	expander *ContinuationExpander,
	renderer ports.DocumentRenderer,
	payments ports.PaymentRepository,
	clock timeutil.Clock,
	logger ports.Logger,
) *Composer {
	return &Composer{
		allocator: allocator,
		expander:  expander,
		renderer:  renderer,
		payments:  payments,
		clock:     clock,
		logger:    logger,
	}
}

// Compose loads the template once, then for each payment in order assigns the next number,
// renders it and expands overflow pages into continuation markers. Any failure stops the run;
// numbers committed before the failure stay consumed.
func (c *Composer) Compose(ctx context.Context, account *domain.BankAccount, sel *domain.BatchSelection, templateID string) (*Result, error) {
	if err := validateSelection(account, sel); err != nil {
		return nil, err
	}
	start := time.Now()

	tmpl, err := c.renderer.LoadTemplate(ctx, templateID)
	if err != nil {
		return nil, domain.NewTemplateLoadError(templateID, err)
	}

	res, err := c.allocator.Begin(ctx, account.ID, sel.Size())
	if err != nil {
		return nil, err
	}
	if sel.StartingNumber != 0 {
		if err := c.allocator.SetStartingNumber(ctx, res, sel.StartingNumber); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Job:         &domain.PrintJob{},
		Reservation: res,
		Documents:   make([]*domain.PaymentDocument, 0, sel.Size()),
	}

	for _, doc := range sel.Documents {
		if err := c.composeOne(ctx, account, tmpl, res, doc, result); err != nil {
			c.logger.Error("compose stopped",
				ports.String("bank_account_id", account.ID.String()),
				ports.String("payment_id", doc.ID.String()),
				ports.Any("consumed_numbers", res.Issued()),
				ports.Err(err))
			return nil, err
		}
	}

	observability.RecordBatchDuration(string(domain.RunKindPrint), time.Since(start).Seconds())
	c.logger.Info("print job composed",
		ports.String("bank_account_id", account.ID.String()),
		ports.Int("payments", len(result.Documents)),
		ports.Int("continuations", len(result.Continuations)),
		ports.Int("pages", result.Job.PageCount()))

	return result, nil
}

func (c *Composer) composeOne(
	ctx context.Context,
	account *domain.BankAccount,
	tmpl ports.Template,
	res *sequence.Reservation,
	doc *domain.PaymentDocument,
	result *Result,
) error {
	numbered := *doc
	_, err := c.allocator.AllocateNext(ctx, res, func(ctx context.Context, tx ports.DBTX, number int64) error {
		if err := numbered.AssignNumber(number); err != nil {
			return err
		}
		numbered.UpdatedAt = c.clock.Now()
		return c.payments.Update(ctx, tx, &numbered)
	})
	if err != nil {
		return err
	}
	*doc = numbered
	observability.RecordNumberAllocated(false)

	pages, err := c.renderer.Render(ctx, tmpl, domain.NewRenderParams(doc, account))
	if err == nil && len(pages) == 0 {
		err = errors.New("renderer returned no pages")
	}
	if err != nil {
		return domain.NewRenderError(doc.RecipientName, doc.Number, err)
	}

	result.Documents = append(result.Documents, doc)
	result.Job.Pages = append(result.Job.Pages, domain.RenderedPage{
		Content:    pages[0].Content,
		Number:     doc.Number,
		DocumentID: doc.ID,
		ParentID:   doc.ID,
	})

	for _, page := range pages[1:] {
		marker, err := c.expander.ExpandContinuation(ctx, res, doc)
		if err != nil {
			return err
		}
		result.Continuations = append(result.Continuations, marker)
		result.Job.Pages = append(result.Job.Pages, domain.RenderedPage{
			Content:    page.Content,
			Number:     marker.Number,
			DocumentID: marker.ID,
			ParentID:   doc.ID,
		})
	}
	return nil
}

func validateSelection(account *domain.BankAccount, sel *domain.BatchSelection) error {
	if sel == nil || sel.Size() == 0 {
		return domain.NewDomainError(domain.ErrorCodeSelectionEmpty, "no unprinted payments selected")
	}
	for _, doc := range sel.Documents {
		if doc.BankAccountID != account.ID {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed,
				fmt.Sprintf("payment %s belongs to another bank account", doc.ID)).
				WithDetail("payment_id", doc.ID.String())
		}
		if !doc.Selectable() {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed,
				fmt.Sprintf("payment %s is %s and cannot be printed", doc.ID, doc.Status)).
				WithDetail("payment_id", doc.ID.String()).
				WithDetail("status", string(doc.Status))
		}
	}
	return nil
}
