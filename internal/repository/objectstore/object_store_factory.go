// Package objectstore serves segments out of object storage buckets, one
// object per segment, and uploads new segments.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zzenonn/zdav/internal/domain"
	"github.com/zzenonn/zdav/internal/usenet"
)

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type  RepositoryType = "s3"
	GCSType RepositoryType = "gcs"
)

// BucketConfig holds configuration for a storage bucket
type BucketConfig struct {
	Name string
	Type RepositoryType
}

// GCSClientFunc returns the shared GCS client, creating it on first use.
type GCSClientFunc func(ctx context.Context) (*storage.Client, error)

// ConnectionFactory opens segment connections to configured providers.
type ConnectionFactory struct {
	awsConfig aws.Config
	gcsClient GCSClientFunc

	mu        sync.Mutex
	s3Clients map[string]*s3.Client
}

// NewConnectionFactory creates a new factory
func NewConnectionFactory(awsConfig aws.Config, gcsClient GCSClientFunc) *ConnectionFactory {
	return &ConnectionFactory{
		awsConfig: awsConfig,
		gcsClient: gcsClient,
		s3Clients: make(map[string]*s3.Client),
	}
}

// Connect opens one connection to provider. It satisfies usenet.ConnectionFactory.
func (f *ConnectionFactory) Connect(ctx context.Context, provider domain.ProviderConfig) (usenet.SegmentClient, error) {
	bucket, err := ResolveBucket(provider)
	if err != nil {
		return nil, err
	}

	switch bucket.Type {
	case S3Type:
		conn, err := DialS3(ctx, f.s3Client(provider), bucket.Name)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case GCSType:
		client, err := f.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := DialGCS(ctx, client, bucket.Name)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", bucket.Type)
	}
}

// CreateUploader returns an uploader writing segments to provider's bucket.
func (f *ConnectionFactory) CreateUploader(ctx context.Context, provider domain.ProviderConfig) (SegmentUploader, error) {
	bucket, err := ResolveBucket(provider)
	if err != nil {
		return nil, err
	}

	switch bucket.Type {
	case S3Type:
		return NewS3SegmentUploader(f.s3Client(provider), bucket.Name), nil
	case GCSType:
		client, err := f.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCSSegmentUploader(client, bucket.Name), nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", bucket.Type)
	}
}

func (f *ConnectionFactory) storageClient(ctx context.Context) (*storage.Client, error) {
	if f.gcsClient == nil {
		return nil, fmt.Errorf("GCS client not configured")
	}
	return f.gcsClient(ctx)
}

// s3Client returns the client for provider, sharing one per provider name.
func (f *ConnectionFactory) s3Client(provider domain.ProviderConfig) *s3.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.s3Clients[provider.Name]; ok {
		return client
	}

	client := s3.NewFromConfig(f.awsConfig, func(o *s3.Options) {
		if provider.Region != "" {
			o.Region = provider.Region
		}
		if provider.Endpoint != "" {
			o.BaseEndpoint = aws.String(provider.Endpoint)
			o.UsePathStyle = true
		}
		if provider.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(provider.AccessKey, provider.SecretKey, "")
		}
	})
	f.s3Clients[provider.Name] = client
	return client
}

// ResolveBucket works out the backend and bucket name of provider. An
// explicit backend wins over a scheme in the bucket string.
func ResolveBucket(provider domain.ProviderConfig) (BucketConfig, error) {
	bucket, err := ParseBucketConfig(provider.Bucket)
	if err != nil {
		return BucketConfig{}, fmt.Errorf("provider %s: %w", provider.Name, err)
	}
	if provider.Backend != "" {
		switch backend := RepositoryType(strings.ToLower(provider.Backend)); backend {
		case S3Type, GCSType:
			bucket.Type = backend
		case "gs":
			bucket.Type = GCSType
		default:
			return BucketConfig{}, fmt.Errorf("provider %s: unsupported backend: %s", provider.Name, provider.Backend)
		}
	}
	return bucket, nil
}

// ParseBucketConfig parses bucket configuration from string
// Formats: "s3://bucket-name", "gs://bucket-name", "s3:bucket-name", or "bucket-name" (defaults to S3)
func ParseBucketConfig(bucketStr string) (BucketConfig, error) {
	bucketStr = strings.TrimSpace(bucketStr)
	if bucketStr == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	// Handle URI format (s3://, gs://)
	if strings.Contains(bucketStr, "://") {
		parts := strings.SplitN(bucketStr, "://", 2)
		scheme := strings.ToLower(strings.TrimSpace(parts[0]))
		bucketName := strings.TrimSpace(parts[1])

		if bucketName == "" {
			return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
		}

		var repoType RepositoryType
		switch scheme {
		case "s3":
			repoType = S3Type
		case "gs":
			repoType = GCSType
		default:
			return BucketConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
		}

		return BucketConfig{
			Name: bucketName,
			Type: repoType,
		}, nil
	}

	// Handle colon format (s3:bucket-name)
	parts := strings.SplitN(bucketStr, ":", 2)
	if len(parts) != 2 {
		return BucketConfig{
			Name: bucketStr,
			Type: S3Type,
		}, nil
	}

	repoType := RepositoryType(strings.ToLower(strings.TrimSpace(parts[0])))
	bucketName := strings.TrimSpace(parts[1])

	if bucketName == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	return BucketConfig{
		Name: bucketName,
		Type: repoType,
	}, nil
}
