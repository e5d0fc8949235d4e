package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// AWSConfig contains configuration for the AWS Secrets Manager adapter
type AWSConfig struct {
	Region string
	// Profile selects a shared config profile for local development
	Profile string
	// Endpoint overrides the service endpoint (LocalStack)
	Endpoint string
}

// secretValueGetter is the subset of the Secrets Manager client the adapter calls
type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretManager reads EFT keys from AWS Secrets Manager
type AWSSecretManager struct {
	client secretValueGetter
	logger ports.Logger
}

var _ ports.SecretManager = (*AWSSecretManager)(nil)

// NewAWSSecretManager loads the default AWS credential chain and creates the adapter
func NewAWSSecretManager(ctx context.Context, cfg AWSConfig, logger ports.Logger) (*AWSSecretManager, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptions []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS Secrets Manager adapter initialized", ports.String("region", cfg.Region))
	return newAWSSecretManager(secretsmanager.NewFromConfig(awsConfig, clientOptions...), logger), nil
}

func newAWSSecretManager(client secretValueGetter, logger ports.Logger) *AWSSecretManager {
	return &AWSSecretManager{client: client, logger: logger}
}

// GetSecret retrieves a secret by name or ARN
func (a *AWSSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	start := time.Now()
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		a.logger.Error("failed to retrieve secret",
			ports.String("path", path),
			ports.Err(err))
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	a.logger.Debug("secret retrieved",
		ports.String("path", path),
		ports.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	secret := &ports.Secret{
		Value:    aws.ToString(result.SecretString),
		Version:  aws.ToString(result.VersionId),
		Metadata: make(map[string]string),
	}
	if secret.Value == "" && len(result.SecretBinary) > 0 {
		secret.Value = string(result.SecretBinary)
	}
	if result.ARN != nil {
		secret.Metadata["arn"] = *result.ARN
	}
	if result.Name != nil {
		secret.Metadata["name"] = *result.Name
	}
	return secret, nil
}
