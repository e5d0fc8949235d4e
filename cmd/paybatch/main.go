// Command paybatch runs one print or EFT batch interactively from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/adapters/operator"
	"github.com/kevin07696/payment-batch/internal/app"
	"github.com/kevin07696/payment-batch/internal/config"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
	"github.com/kevin07696/payment-batch/pkg/logging"
	"golang.org/x/term"
)

var (
	flags         = flag.NewFlagSet("paybatch", flag.ExitOnError)
	accountFlag   = flags.String("account", "", "bank account id (required)")
	countFlag     = flags.Int("count", 0, "maximum payments to include, 0 for all unprinted")
	startFlag     = flags.Int64("start", 0, "starting payment number, 0 to continue the account counter")
	templateFlag  = flags.String("template", "", "document template id")
	eftFlag       = flags.Bool("eft", false, "produce an EFT file instead of printing")
	partialFlag   = flags.Bool("accept-partial", false, "skip the prompt when some recipients are not EFT-enabled")
	outputFlag    = flags.String("output", "", "EFT file path, defaults to the configured output directory")
	logLevelFlag  = flags.String("log-level", "", "override LOG_LEVEL")
	forceTermFlag = flags.Bool("no-tty-check", false, "allow answers from a non-terminal stdin")
)

func main() {
	_ = flags.Parse(os.Args[1:])

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "paybatch: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run() error {
	bankAccountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		flags.Usage()
		return fmt.Errorf("-account must be a bank account id: %w", err)
	}

	// Operator answers decide what is finalized; refuse piped input unless asked
	if !*forceTermFlag && !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("stdin is not a terminal; rerun interactively or pass -no-tty-check")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if *logLevelFlag != "" {
		cfg.Logger.Level = *logLevelFlag
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	terminal := operator.NewTerminal(os.Stdin, os.Stdout)

	if *eftFlag {
		return runEFT(ctx, application, terminal, bankAccountID, logger)
	}
	return runPrint(ctx, application, terminal, bankAccountID)
}

func runPrint(ctx context.Context, application *app.App, terminal *operator.Terminal, bankAccountID uuid.UUID) error {
	run, err := application.Service.RunPrint(ctx, &serviceports.CreatePrintRunRequest{
		BankAccountID:  bankAccountID,
		Count:          *countFlag,
		StartingNumber: *startFlag,
		TemplateID:     *templateFlag,
	}, terminal, terminal)
	if err != nil {
		return err
	}

	fmt.Printf("Print run %s %s: %d payments, numbers %v\n",
		run.ID, run.State, len(run.Documents), run.Numbers)
	if run.SpoolLocation != "" {
		fmt.Printf("Spooled to %s\n", run.SpoolLocation)
	}
	return nil
}

func runEFT(ctx context.Context, application *app.App, terminal *operator.Terminal, bankAccountID uuid.UUID, logger ports.Logger) error {
	run, err := application.Service.RunEFT(ctx, &serviceports.CreateEFTRunRequest{
		BankAccountID: bankAccountID,
		Count:         *countFlag,
		AcceptPartial: *partialFlag,
		OutputPath:    *outputFlag,
	}, terminal)
	if err != nil {
		return err
	}
	if run == nil {
		logger.Info("EFT batch declined by operator")
		fmt.Println("No EFT file produced.")
		return nil
	}

	fmt.Printf("EFT batch %d %s: %d payments, %d lines\n", run.BatchID, run.State, len(run.Documents), run.LineCount)
	if run.Warning != "" {
		fmt.Println(run.Warning)
	}
	if run.ArchiveKey != "" {
		fmt.Printf("Archived to %s\n", run.ArchiveKey)
	}
	return nil
}

// exitCode separates operator-resolvable conflicts from everything else
func exitCode(err error) int {
	switch {
	case errors.Is(err, operator.ErrNoAnswer):
		return 3
	case domain.IsConflictError(err), domain.IsNotFoundError(err):
		return 2
	default:
		return 1
	}
}
