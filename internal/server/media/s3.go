// Package media stores user images in an S3-compatible bucket and hands
// back their public URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/videotube/internal/logging"
	"github.com/google/uuid"
)

var (
	ErrEmptyPath          = errors.New("no local file to upload")
	ErrInvalidConfig      = errors.New("invalid media storage configuration")
	ErrForeignURL         = errors.New("url does not belong to this bucket")
	ErrOperationTimeout   = errors.New("media operation timed out")
	ErrAccessDenied       = errors.New("media storage access denied")
	ErrBucketNotFound     = errors.New("media bucket not found")
	ErrServiceUnavailable = errors.New("media storage unavailable")
)

// Kind hints what is being uploaded; it selects the key prefix.
type Kind string

const (
	KindImage Kind = "image"
	KindAuto  Kind = "auto"
)

func (k Kind) prefix() string {
	if k == KindImage {
		return "images"
	}
	return "files"
}

// Asset describes a stored object.
type Asset struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
}

// S3Client is the subset of *s3.Client used by S3Uploader.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds the bucket coordinates and credentials.
type Config struct {
	Bucket        string
	Region        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string
	PublicBaseURL string
	UploadTimeout time.Duration
}

type Option func(*S3Uploader)

// WithS3Client replaces the SDK client, mainly for tests.
func WithS3Client(c S3Client) Option {
	return func(u *S3Uploader) { u.client = c }
}

func WithLogger(l logging.Logger) Option {
	return func(u *S3Uploader) { u.logger = l }
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig
	now                  = time.Now
)

// S3Uploader uploads staged local files and removes them afterwards.
// It is safe for concurrent use.
type S3Uploader struct {
	client  S3Client
	bucket  string
	baseURL string
	timeout time.Duration
	logger  logging.Logger
}

func NewS3Uploader(ctx context.Context, cfg Config, opts ...Option) (*S3Uploader, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	u := &S3Uploader{
		bucket:  cfg.Bucket,
		timeout: cfg.UploadTimeout,
		logger:  logging.Nop{},
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.client == nil {
		awsCfg, err := loadDefaultAWSConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretKey,
				"",
			)))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		u.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	}

	u.baseURL = cfg.PublicBaseURL
	if u.baseURL == "" {
		if cfg.Endpoint != "" {
			u.baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			u.baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	if !strings.HasSuffix(u.baseURL, "/") {
		u.baseURL += "/"
	}

	return u, nil
}

func objectKey(kind Kind, localPath string) string {
	d := now().UTC()
	ext := strings.ToLower(filepath.Ext(localPath))
	return fmt.Sprintf("%s/%d/%02d/%s%s", kind.prefix(), d.Year(), d.Month(), uuid.NewString(), ext)
}

func sniffContentType(f *os.File) (string, error) {
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

// Upload stores the file at localPath and returns its public URL. The local
// file is removed whether or not the upload succeeds.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, kind Kind) (*Asset, error) {
	if localPath == "" {
		return nil, ErrEmptyPath
	}
	defer func() {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			u.logger.Warn(ctx, "failed to remove staged file", "path", localPath, "error", err)
		}
	}()

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat staged file: %w", err)
	}
	contentType, err := sniffContentType(f)
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	key := objectKey(kind, localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return nil, classifyS3Error(err, "upload")
	}

	u.logger.Debug(ctx, "media uploaded", "key", key, "size", info.Size(), "content_type", contentType)

	return &Asset{
		URL:         u.baseURL + key,
		Key:         key,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// Remove deletes the object behind url. URLs outside the bucket are rejected
// with ErrForeignURL.
func (u *S3Uploader) Remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, u.baseURL)
	if !ok || key == "" {
		return ErrForeignURL
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, "delete")
	}
	return nil
}

// classifyS3Error converts SDK errors into the package sentinels.
func classifyS3Error(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s operation", ErrOperationTimeout, operation)
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "AccessDenied":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "RequestTimeout":
			return fmt.Errorf("%w: %s operation", ErrOperationTimeout, operation)
		case "SlowDown", "ServiceUnavailable":
			return fmt.Errorf("%w: %s operation", ErrServiceUnavailable, operation)
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("%s operation failed (code: %s): %w", operation, code, err)
		}
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}
