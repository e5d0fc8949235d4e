// Package archive stores accepted EFT files outside the output directory.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/pkg/resilience"
)

const uploadAttempts = 3

// S3Config configures the S3 archiver
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// KMSKeyID enables SSE-KMS when set
	KMSKeyID string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads EFT files to a bucket
type S3Archiver struct {
	client  objectPutter
	logger  ports.Logger
	backoff resilience.BackoffStrategy
	cfg     S3Config
}

var _ ports.FileArchiver = (*S3Archiver)(nil)

// NewS3Archiver loads the default AWS credential chain and creates the archiver
func NewS3Archiver(ctx context.Context, cfg S3Config, logger ports.Logger) (*S3Archiver, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{
		client:  client,
		logger:  logger,
		backoff: resilience.DefaultExponentialBackoff(),
		cfg:     cfg,
	}, nil
}

// Archive uploads body under key and returns the s3:// location.
// Transient upload failures are retried with backoff.
func (a *S3Archiver) Archive(ctx context.Context, key string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s for archiving: %w", key, err)
	}

	err = resilience.Retry(ctx, uploadAttempts, a.backoff, func(ctx context.Context) error {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(a.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("text/plain"),
		}
		if a.cfg.KMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(a.cfg.KMSKeyID)
		}

		_, err := a.client.PutObject(ctx, input)
		if err != nil {
			a.logger.Warn("EFT archive upload failed",
				ports.String("key", key),
				ports.Err(err))
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, a.cfg.Bucket, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key)
	a.logger.Info("EFT file archived", ports.String("location", location))
	return location, nil
}
