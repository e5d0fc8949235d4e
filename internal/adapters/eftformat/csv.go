package eftformat

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// CSV writes one comma-separated record per payment after a header row.
// The last line carries the record count, the total and the HMAC of everything above it.
type CSV struct{}

func (CSV) Name() string          { return "csv" }
func (CSV) DefaultSuffix() string { return ".csv" }

var csvHeader = []string{"batch_id", "payment_id", "recipient", "routing_number", "account_number", "amount", "currency", "payment_date"}

// Format emits the header, the payment rows and the trailer
func (CSV) Format(ctx context.Context, req ports.EFTFormatRequest, emit func(string) error) error {
	if len(req.Key) == 0 {
		return fmt.Errorf("csv formatter requires an encryption key")
	}

	sig := newSigner(req.Key)
	write := func(record []string) error {
		line, err := csvLine(record)
		if err != nil {
			return err
		}
		sig.add(line)
		return emit(line)
	}

	if err := write(csvHeader); err != nil {
		return err
	}

	total := int64(0)
	batchID := strconv.FormatInt(req.BatchID, 10)
	for _, p := range req.Payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		cents, err := toCents(p.Amount)
		if err != nil {
			return fmt.Errorf("payment %s: %w", p.ID, err)
		}
		total += cents

		record := []string{
			batchID,
			p.ID.String(),
			p.RecipientName,
			p.RecipientRoutingNumber,
			p.RecipientAccountNumber,
			p.Amount.StringFixed(2),
			p.Currency,
			p.PaymentDate.Format("2006-01-02"),
		}
		if err := write(record); err != nil {
			return err
		}
	}

	trailer, err := csvLine([]string{
		"TRAILER",
		strconv.Itoa(len(req.Payments)),
		fmt.Sprintf("%d.%02d", total/100, total%100),
		sig.sum(),
	})
	if err != nil {
		return err
	}
	return emit(trailer)
}

func csvLine(record []string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\r\n"), nil
}
