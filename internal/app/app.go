// Package app wires configuration into the adapters and services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/payment-batch/internal/adapters/archive"
	"github.com/kevin07696/payment-batch/internal/adapters/eftformat"
	"github.com/kevin07696/payment-batch/internal/adapters/postgres"
	"github.com/kevin07696/payment-batch/internal/adapters/render"
	"github.com/kevin07696/payment-batch/internal/adapters/secrets"
	"github.com/kevin07696/payment-batch/internal/adapters/spool"
	"github.com/kevin07696/payment-batch/internal/config"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/batchrun"
	"github.com/kevin07696/payment-batch/internal/services/compose"
	"github.com/kevin07696/payment-batch/internal/services/eft"
	"github.com/kevin07696/payment-batch/internal/services/finalize"
	"github.com/kevin07696/payment-batch/internal/services/reconcile"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
)

// App holds the wired service graph
type App struct {
	Pool    *pgxpool.Pool
	Service *batchrun.Service
}

// Close releases the database pool
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// New connects to PostgreSQL and builds every adapter and service from cfg
func New(ctx context.Context, cfg *config.Config, logger ports.Logger) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := postgres.Connect(ctx, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	db := postgres.NewDBExecutor(pool)
	service, err := NewService(ctx, cfg, db, postgres.NewPaymentRepository(db),
		postgres.NewBankAccountRepository(db), postgres.NewSequenceStore(db), logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{Pool: pool, Service: service}, nil
}

// NewService builds the batch run service over the given storage ports
func NewService(
	ctx context.Context,
	cfg *config.Config,
	db ports.TransactionManager,
	payments ports.PaymentRepository,
	accounts ports.BankAccountRepository,
	counters ports.SequenceStore,
	logger ports.Logger,
) (*batchrun.Service, error) {
	clock := timeutil.SystemClock{}

	renderer := render.NewTextRenderer(render.Config{
		Dir:          cfg.Print.TemplateDir,
		LinesPerPage: cfg.Print.LinesPerPage,
		CacheTTL:     time.Hour,
	}, logger)

	spooler, err := spool.NewFileSpooler(spool.Config{
		Dir:            cfg.Print.SpoolDir,
		PagesPerSecond: cfg.Print.PagesPerSecond,
		Burst:          1,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init spooler: %w", err)
	}

	secretManager, err := secrets.New(ctx, secrets.Config{
		Provider:  cfg.Secrets.Provider,
		LocalPath: cfg.Secrets.LocalPath,
		AWS:       secrets.AWSConfig{Region: cfg.Secrets.AWSRegion},
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddr,
			AuthMethod: "token",
			Token:      cfg.Secrets.VaultToken,
		},
		CacheTTL: cfg.Secrets.CacheTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init secret manager: %w", err)
	}

	var archiver ports.FileArchiver
	if cfg.Archive.Bucket != "" {
		s3, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket:   cfg.Archive.Bucket,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
			KMSKeyID: cfg.Archive.KMSKeyID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init archiver: %w", err)
		}
		archiver = s3
	}

	allocator := sequence.NewAllocator(db, counters, payments, logger)
	expander := compose.NewContinuationExpander(allocator, payments, clock, logger)
	composer := compose.NewComposer(allocator, expander, renderer, payments, clock, logger)
	finalizer := finalize.NewFinalizer(db, payments, clock, logger)
	reconciler := reconcile.NewReconciler(db, payments, spooler, finalizer, clock, logger)
	builder := eft.NewBuilder(db, payments, allocator, eftformat.NewDefaultRegistry(), secretManager,
		archiver, finalizer, clock, logger, eft.Config{
			DefaultFormatter: cfg.EFT.Formatter,
			OutputDir:        cfg.EFT.OutputDir,
			KeyPath:          cfg.EFT.KeyPath,
			ArchivePrefix:    cfg.Archive.Prefix,
		})

	return batchrun.NewService(db, payments, accounts, allocator, composer, reconciler, builder,
		finalizer, clock, logger, batchrun.Config{
			DefaultTemplateID: cfg.Print.TemplateID,
			MaxRunSize:        cfg.Server.MaxRunSize,
		}), nil
}
