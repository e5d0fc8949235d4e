package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// LocalSecretManager reads secrets from files under a base directory.
// For development only; use AWS Secrets Manager or Vault in production.
type LocalSecretManager struct {
	logger   ports.Logger
	basePath string
}

var _ ports.SecretManager = (*LocalSecretManager)(nil)

// NewLocalSecretManager creates a new local filesystem secret manager
func NewLocalSecretManager(basePath string, logger ports.Logger) *LocalSecretManager {
	return &LocalSecretManager{basePath: basePath, logger: logger}
}

// GetSecret reads basePath/path. The file holds either {"value": ..., "tags": {...}} or the raw value.
func (m *LocalSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	clean := filepath.Clean("/" + path)
	data, err := os.ReadFile(filepath.Join(m.basePath, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("secret not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	m.logger.Debug("secret read from filesystem", ports.String("path", path))

	var stored struct {
		Tags  map[string]string `json:"tags"`
		Value string            `json:"value"`
	}
	if err := json.Unmarshal(data, &stored); err == nil && stored.Value != "" {
		return &ports.Secret{Value: stored.Value, Version: "v1", Metadata: stored.Tags}, nil
	}

	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return nil, fmt.Errorf("secret %s is empty", path)
	}
	return &ports.Secret{Value: value, Version: "v1"}, nil
}
