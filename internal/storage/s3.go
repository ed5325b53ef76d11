package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// Object metadata keys. S3 lowercases user metadata keys.
const (
	metaLanguage    = "language"
	metaContentHash = "content-hash"
	metaImports     = "imports"
	metaExports     = "exports"
)

type S3ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible servers such as
	// RustFS or MinIO. Empty means AWS proper.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// S3Client is a CodebaseFileStore backed by an S3 bucket. Each file is one
// object keyed "<scope>/<path>"; language, hash and the import/export lists
// travel as object metadata.
type S3Client struct {
	client *s3.Client
	bucket string
}

func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(scopeID, filePath string) string {
	return scopeID + "/" + strings.TrimPrefix(filePath, "/")
}

// SaveFiles uploads one object per file, replacing earlier snapshots.
// Objects whose stored hash matches the file are left untouched.
func (c *S3Client) SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) error {
	for _, f := range files {
		key := objectKey(scopeID, f.Path)
		if f.ContentHash != "" && c.storedHash(ctx, key) == f.ContentHash {
			continue
		}
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        strings.NewReader(f.Content),
			ContentType: aws.String("text/plain; charset=utf-8"),
			Metadata: map[string]string{
				metaLanguage:    f.Language,
				metaContentHash: f.ContentHash,
				metaImports:     strings.Join(f.Imports, ","),
				metaExports:     strings.Join(f.Exports, ","),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to put %s: %w", f.Path, err)
		}
	}
	return nil
}

// GetFile returns nil without error when the object does not exist.
func (c *S3Client) GetFile(ctx context.Context, scopeID, filePath string) (*domain.CodebaseFile, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(scopeID, filePath)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", filePath, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	f := domain.NewCodebaseFile(scopeID, filePath, buf.String(), out.Metadata[metaLanguage])
	if hash := out.Metadata[metaContentHash]; hash != "" {
		f.ContentHash = hash
	}
	f.Imports = splitList(out.Metadata[metaImports])
	f.Exports = splitList(out.Metadata[metaExports])
	if out.LastModified != nil {
		f.UpdatedAt = *out.LastModified
	}
	return f, nil
}

// GetAllFiles lists and downloads every file of the scope, in key order.
func (c *S3Client) GetAllFiles(ctx context.Context, scopeID string) ([]*domain.CodebaseFile, error) {
	prefix := scopeID + "/"
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var files []*domain.CodebaseFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			filePath := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			f, err := c.GetFile(ctx, scopeID, filePath)
			if err != nil {
				return nil, err
			}
			if f != nil {
				files = append(files, f)
			}
		}
	}
	return files, nil
}

// storedHash returns the content hash recorded on an existing object, or ""
// when the object is missing or unreadable.
func (c *S3Client) storedHash(ctx context.Context, key string) string {
	output, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ""
	}
	return output.Metadata[metaContentHash]
}

// EnsureBucket creates the bucket unless it already exists. Losing a create
// race to another replica is not an error.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err == nil {
		return nil
	}

	_, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
