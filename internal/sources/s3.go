package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
)

// S3Config holds connection settings for an S3 or MinIO bucket.
type S3Config struct {
	Endpoint  string // empty uses the AWS default for the region
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3API is the subset of the S3 client used by the S3 backend.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads workflows from a bucket. Directories are key prefixes.
type S3 struct {
	client S3API
	bucket string
}

// NewS3 creates an S3 backend.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})
	logging.Info("S3 backend configured",
		logging.String("bucket", cfg.Bucket),
		logging.String("endpoint", cfg.Endpoint))
	return NewS3WithClient(client, cfg.Bucket), nil
}

// NewS3WithClient creates an S3 backend over an existing client.
func NewS3WithClient(client S3API, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Kind implements Backend.
func (b *S3) Kind() string { return "s3" }

// ListDir implements Backend using a delimited listing of the prefix.
func (b *S3) ListDir(ctx context.Context, dir string) ([]DirEntry, error) {
	start := time.Now()
	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	var entries []DirEntry
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordUpstream(b.Kind(), "list_dir", time.Since(start), false)
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, DirEntry{Name: name, Dir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" && !strings.Contains(name, "/") {
				entries = append(entries, DirEntry{Name: name})
			}
		}
	}

	metrics.RecordUpstream(b.Kind(), "list_dir", time.Since(start), true)
	return entries, nil
}

// ReadFile implements Backend.
func (b *S3) ReadFile(ctx context.Context, p string) ([]byte, error) {
	start := time.Now()
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		metrics.RecordUpstream(b.Kind(), "get_object", time.Since(start), false)
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", p, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	metrics.RecordUpstream(b.Kind(), "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", p, err)
	}
	return data, nil
}
