package eftformat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/shopspring/decimal"
)

const (
	recordLength   = 94
	blockingFactor = 10

	serviceClassCredits = "220"
	transactionCredit   = "22"
)

// NACHA writes a single-batch CCD credit file with 94-character fixed-width records.
// The batch control's authentication field holds the first 19 hex digits of the HMAC of
// the entries.
type NACHA struct{}

func (NACHA) Name() string          { return "nacha" }
func (NACHA) DefaultSuffix() string { return ".ach" }

// Format emits the file header, batch header, one entry per payment, the controls and block padding
func (NACHA) Format(ctx context.Context, req ports.EFTFormatRequest, emit func(string) error) error {
	acct := req.BankAccount
	if acct == nil {
		return fmt.Errorf("nacha formatter requires a bank account")
	}
	if err := validRouting(acct.RoutingNumber); err != nil {
		return fmt.Errorf("originating bank account: %w", err)
	}
	if len(req.Key) == 0 {
		return fmt.Errorf("nacha formatter requires an encryption key")
	}

	created := req.CreatedAt
	effective := effectiveEntryDate(created, req.Payments)
	odfi := acct.RoutingNumber[:8]
	batchNumber := req.BatchID % 10000000

	lines := make([]string, 0, len(req.Payments)+4)

	lines = append(lines, "1"+
		"01"+
		" "+acct.RoutingNumber+
		right(acct.CompanyID, 10)+
		created.Format("060102")+
		created.Format("1504")+
		"A"+
		"094"+
		"10"+
		"1"+
		left(acct.Name, 23)+
		left(acct.Name, 23)+
		zeroPad(req.BatchID%100000000, 8))

	lines = append(lines, "5"+
		serviceClassCredits+
		left(acct.Name, 16)+
		left("", 20)+
		right(acct.CompanyID, 10)+
		"CCD"+
		left("PAYMENT", 10)+
		created.Format("060102")+
		effective.Format("060102")+
		"   "+
		"1"+
		odfi+
		zeroPad(batchNumber, 7))

	sig := newSigner(req.Key)
	var entryHash, totalCredit int64
	for i, p := range req.Payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, dfi, cents, err := entryRecord(p, odfi, i+1)
		if err != nil {
			return fmt.Errorf("payment %s for %s: %w", p.ID, p.RecipientName, err)
		}
		entryHash += dfi
		totalCredit += cents
		sig.add(entry)
		lines = append(lines, entry)
	}

	entryCount := int64(len(req.Payments))
	hash := entryHash % 10000000000
	mac := sig.sum()[:19]

	lines = append(lines, "8"+
		serviceClassCredits+
		zeroPad(entryCount, 6)+
		zeroPad(hash, 10)+
		zeroPad(0, 12)+
		zeroPad(totalCredit, 12)+
		right(acct.CompanyID, 10)+
		mac+
		left("", 6)+
		odfi+
		zeroPad(batchNumber, 7))

	records := int64(len(lines) + 1)
	blocks := (records + blockingFactor - 1) / blockingFactor

	lines = append(lines, "9"+
		zeroPad(1, 6)+
		zeroPad(blocks, 6)+
		zeroPad(entryCount, 8)+
		zeroPad(hash, 10)+
		zeroPad(0, 12)+
		zeroPad(totalCredit, 12)+
		left("", 39))

	for int64(len(lines)) < blocks*blockingFactor {
		lines = append(lines, strings.Repeat("9", recordLength))
	}

	for _, line := range lines {
		if len(line) != recordLength {
			return fmt.Errorf("record %q is %d characters, want %d", line[:1], len(line), recordLength)
		}
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

func entryRecord(p *domain.PaymentDocument, odfi string, seq int) (string, int64, int64, error) {
	if err := validRouting(p.RecipientRoutingNumber); err != nil {
		return "", 0, 0, err
	}
	if p.RecipientAccountNumber == "" || len(p.RecipientAccountNumber) > 17 {
		return "", 0, 0, fmt.Errorf("recipient account number must be 1-17 characters")
	}
	cents, err := toCents(p.Amount)
	if err != nil {
		return "", 0, 0, err
	}
	if cents >= 10000000000 {
		return "", 0, 0, fmt.Errorf("amount %s exceeds the entry limit", p.Amount.StringFixed(2))
	}

	dfi, _ := strconv.ParseInt(p.RecipientRoutingNumber[:8], 10, 64)
	id := strings.ReplaceAll(p.ID.String(), "-", "")[:15]

	entry := "6" +
		transactionCredit +
		p.RecipientRoutingNumber[:8] +
		p.RecipientRoutingNumber[8:9] +
		left(p.RecipientAccountNumber, 17) +
		zeroPad(cents, 10) +
		left(strings.ToUpper(id), 15) +
		left(strings.ToUpper(p.RecipientName), 22) +
		"  " +
		"0" +
		odfi + zeroPad(int64(seq), 7)
	return entry, dfi, cents, nil
}

// toCents converts a positive amount with at most two decimals to cents
func toCents(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimals", amount.String())
	}
	return cents.IntPart(), nil
}

// validRouting checks a nine-digit ABA routing number and its check digit
func validRouting(routing string) error {
	if len(routing) != 9 {
		return fmt.Errorf("routing number %q must be 9 digits", routing)
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i, c := range routing {
		if c < '0' || c > '9' {
			return fmt.Errorf("routing number %q must be 9 digits", routing)
		}
		sum += int(c-'0') * weights[i]
	}
	if sum%10 != 0 {
		return fmt.Errorf("routing number %q fails the check digit", routing)
	}
	return nil
}

// left pads or truncates s to n characters, left-justified
func left(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// right pads or truncates s to n characters, right-justified
func right(s string, n int) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat(" ", n-len(s)) + s
}

func zeroPad(v int64, n int) string {
	return fmt.Sprintf("%0*d", n, v)
}

// effectiveEntryDate is the latest payment date in the batch, never earlier than the file's creation day
func effectiveEntryDate(created time.Time, payments []*domain.PaymentDocument) time.Time {
	effective := timeutil.StartOfDay(created)
	for _, p := range payments {
		if day := timeutil.StartOfDay(p.PaymentDate); day.After(effective) {
			effective = day
		}
	}
	return effective
}
