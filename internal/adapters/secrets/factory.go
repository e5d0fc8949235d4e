// Package secrets provides SecretManager implementations for EFT encryption keys.
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// Config selects and configures the secret provider
type Config struct {
	// Provider is "local", "aws" or "vault"
	Provider  string
	LocalPath string
	AWS       AWSConfig
	Vault     VaultConfig
	// CacheTTL enables caching when positive
	CacheTTL time.Duration
}

// New builds the configured secret manager
func New(ctx context.Context, cfg Config, logger ports.Logger) (ports.SecretManager, error) {
	var (
		manager ports.SecretManager
		err     error
	)

	switch cfg.Provider {
	case "", "local":
		manager = NewLocalSecretManager(cfg.LocalPath, logger)
	case "aws":
		manager, err = NewAWSSecretManager(ctx, cfg.AWS, logger)
	case "vault":
		manager, err = NewVaultSecretManager(ctx, cfg.Vault, logger)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheTTL > 0 {
		manager = NewCachedSecretManager(manager, cfg.CacheTTL, logger)
	}
	return manager, nil
}
