// Package operator asks the human operator for run decisions on a text terminal.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// ErrNoAnswer is returned when input ends before the operator answered
var ErrNoAnswer = errors.New("operator input closed without an answer")

// Terminal implements the print and EFT gates and the reviewer over a line-oriented stream.
// Every prompt blocks until a valid answer arrives.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

var (
	_ ports.PrintDecisionGate = (*Terminal)(nil)
	_ ports.EFTDecisionGate   = (*Terminal)(nil)
	_ ports.Reviewer          = (*Terminal)(nil)
)

// NewTerminal creates a terminal operator
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// ConfirmAllPrinted asks whether every page of the dispatched job printed
func (t *Terminal) ConfirmAllPrinted(ctx context.Context, run *domain.PrintRun) (bool, error) {
	fmt.Fprintf(t.out, "\nPrint run %s: %d payments, %d pages", run.ID, len(run.Documents), len(run.Numbers))
	if n := len(run.Numbers); n > 0 {
		fmt.Fprintf(t.out, ", numbers %d-%d", run.Numbers[0], run.Numbers[n-1])
	}
	if run.SpoolLocation != "" {
		fmt.Fprintf(t.out, "\nSpooled to %s", run.SpoolLocation)
	}
	fmt.Fprintln(t.out)
	return t.confirm(ctx, "Did every page print correctly?")
}

// ConfirmPartial warns that some recipients are not EFT-enabled
func (t *Terminal) ConfirmPartial(ctx context.Context, eligible, skipped int) (bool, error) {
	fmt.Fprintf(t.out, "\n%d payments have recipients without EFT and will be left for printing.\n", skipped)
	return t.confirm(ctx, fmt.Sprintf("Generate an EFT batch for the other %d?", eligible))
}

// ConfirmFile asks whether the generated file is correct
func (t *Terminal) ConfirmFile(ctx context.Context, run *domain.EFTRun) (bool, error) {
	fmt.Fprintf(t.out, "\nEFT batch %d written to %s (%d payments, %d lines, formatter %s)\n",
		run.BatchID, run.FilePath, len(run.Documents), run.LineCount, run.Formatter)
	return t.confirm(ctx, "Is the EFT file correct?")
}

// Review lists the run's payments and reads the ones that printed correctly
func (t *Terminal) Review(ctx context.Context, docs []*domain.PaymentDocument) ([]uuid.UUID, error) {
	fmt.Fprintln(t.out, "\nPayments from this run:")
	for i, d := range docs {
		fmt.Fprintf(t.out, "  [%d] #%d %-30s %12s %s\n", i+1, d.Number, d.RecipientName, d.Amount.StringFixed(2), d.Currency)
	}

	for {
		line, err := t.prompt(ctx, "Which printed correctly? (e.g. 1,3-4, all, or none): ")
		if err != nil {
			return nil, err
		}
		picked, err := parseSelection(line, len(docs))
		if err != nil {
			fmt.Fprintf(t.out, "%v\n", err)
			continue
		}
		ids := make([]uuid.UUID, 0, len(picked))
		for _, i := range picked {
			ids = append(ids, docs[i].ID)
		}
		return ids, nil
	}
}

func (t *Terminal) confirm(ctx context.Context, question string) (bool, error) {
	for {
		line, err := t.prompt(ctx, question+" [y/n]: ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(t.out, "Please answer y or n.")
	}
}

func (t *Terminal) prompt(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.out, text)

	line, err := t.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		if errors.Is(err, io.EOF) {
			return "", ErrNoAnswer
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// parseSelection turns "1,3-4", "all" or "none" into zero-based indexes
func parseSelection(input string, n int) ([]int, error) {
	switch strings.ToLower(input) {
	case "all":
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	case "", "none":
		return nil, nil
	}

	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		lo, hi := part, part
		if a, b, ok := strings.Cut(part, "-"); ok {
			lo, hi = strings.TrimSpace(a), strings.TrimSpace(b)
		}
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || from < 1 || to > n || from > to {
			return nil, fmt.Errorf("invalid entry %q, use numbers between 1 and %d", part, n)
		}
		for i := from; i <= to; i++ {
			if !seen[i] {
				seen[i] = true
				out = append(out, i-1)
			}
		}
	}
	return out, nil
}
