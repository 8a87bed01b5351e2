// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"

	appconfig "pong-tournament/config"
)

// ObjectPutter is the subset of the S3 client used for archiving.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveStore uploads closed tournament brackets to an R2 bucket.
type ArchiveStore struct {
	client     ObjectPutter
	bucket     string
	cdnBaseURL string
}

// NewArchiveStore builds an R2-backed store. It returns nil, nil when archiving is not configured.
func NewArchiveStore(ctx context.Context, cfg appconfig.ArchiveConfig) (*ArchiveStore, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cdn := cfg.CDNBaseURL
	if cdn == "" {
		cdn = endpoint
	}
	return NewArchiveStoreWithClient(client, cfg.Bucket, cdn), nil
}

func NewArchiveStoreWithClient(client ObjectPutter, bucket, cdnBaseURL string) *ArchiveStore {
	return &ArchiveStore{client: client, bucket: bucket, cdnBaseURL: cdnBaseURL}
}

// BracketKey returns the object key for a match archive, e.g. "brackets/friday-cup-12.json".
func BracketKey(matchName string, matchID uint) string {
	name := slug.Make(matchName)
	if name == "" {
		name = "match"
	}
	return fmt.Sprintf("brackets/%s-%d.json", name, matchID)
}

// PutJSON uploads body under key and returns its public URL.
func (a *ArchiveStore) PutJSON(ctx context.Context, key string, body []byte) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key), nil
}
