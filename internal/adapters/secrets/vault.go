package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// VaultConfig contains configuration for the HashiCorp Vault adapter
type VaultConfig struct {
	Address string
	// AuthMethod is "token" or "approle"
	AuthMethod string
	Token      string
	RoleID     string
	SecretID   string
	Namespace  string
	// MountPath of the KV engine, default "secret"
	MountPath string
	// KVVersion is "v1" or "v2", default "v2"
	KVVersion     string
	TLSSkipVerify bool
}

// logicalReader is the subset of the Vault logical client the adapter calls
type logicalReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultSecretManager reads EFT keys from a Vault KV engine
type VaultSecretManager struct {
	logical logicalReader
	logger  ports.Logger
	cfg     VaultConfig
}

var _ ports.SecretManager = (*VaultSecretManager)(nil)

// NewVaultSecretManager creates and authenticates a Vault client
func NewVaultSecretManager(ctx context.Context, cfg VaultConfig, logger ports.Logger) (*VaultSecretManager, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.KVVersion == "" {
		cfg.KVVersion = "v2"
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault adapter initialized",
		ports.String("address", cfg.Address),
		ports.String("auth_method", cfg.AuthMethod),
		ports.String("mount_path", cfg.MountPath))

	return &VaultSecretManager{logical: client.Logical(), logger: logger, cfg: cfg}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg VaultConfig) error {
	switch cfg.AuthMethod {
	case "", "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads the "value" field of the KV entry at path
func (v *VaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	fullPath := fmt.Sprintf("%s/%s", v.cfg.MountPath, path)
	if v.cfg.KVVersion == "v2" {
		fullPath = fmt.Sprintf("%s/data/%s", v.cfg.MountPath, path)
	}

	secret, err := v.logical.ReadWithContext(ctx, fullPath)
	if err != nil {
		v.logger.Error("failed to read secret from Vault",
			ports.String("path", path),
			ports.Err(err))
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	data := secret.Data
	version := "1"
	if v.cfg.KVVersion == "v2" {
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid secret format from Vault")
		}
		data = inner
		if meta, ok := secret.Data["metadata"].(map[string]interface{}); ok {
			if n, ok := meta["version"].(json.Number); ok {
				version = n.String()
			}
		}
	}

	value, _ := data["value"].(string)
	if value == "" {
		return nil, fmt.Errorf("secret %s has no value field", path)
	}

	result := &ports.Secret{Value: value, Version: version, Metadata: make(map[string]string)}
	for k, raw := range data {
		if s, ok := raw.(string); ok && k != "value" {
			result.Metadata[k] = s
		}
	}
	return result, nil
}
