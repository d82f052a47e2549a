package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"manim-studio/internal/config"
	"manim-studio/internal/render"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror copies rendered videos to a bucket and reports their object URL.
type S3Mirror struct {
	client    objectPutter
	bucket    string
	prefix    string
	region    string
	endpoint  string
	pathStyle bool
}

// NewS3Mirror returns nil when no bucket is configured.
func NewS3Mirror(ctx context.Context, cfg config.Config) (*S3Mirror, error) {
	if cfg.ArtifactS3Bucket == "" {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Mirror{
		client:    client,
		bucket:    cfg.ArtifactS3Bucket,
		prefix:    strings.Trim(cfg.ArtifactS3Prefix, "/"),
		region:    cfg.ArtifactS3Region,
		endpoint:  strings.TrimRight(cfg.ArtifactS3Endpoint, "/"),
		pathStyle: cfg.ArtifactS3PathStyle,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArtifactS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArtifactS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArtifactS3Endpoint)
		}
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

// Key is the object key a job's artifact is stored under.
func (m *S3Mirror) Key(jobID, localPath string) string {
	name := filepath.Base(localPath)
	if m.prefix == "" {
		return path.Join(jobID, name)
	}
	return path.Join(m.prefix, jobID, name)
}

// Upload streams the file at localPath to the bucket and returns its URL.
func (m *S3Mirror) Upload(ctx context.Context, jobID, localPath string) (string, error) {
	if m == nil {
		return "", errors.New("s3 mirror not configured")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	key := m.Key(jobID, localPath)
	contentType := render.ContentType(localPath)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return m.objectURL(key), nil
}

func (m *S3Mirror) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if m.endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", m.bucket, m.region, escaped)
	}
	if m.pathStyle {
		return fmt.Sprintf("%s/%s/%s", m.endpoint, m.bucket, escaped)
	}
	u, err := url.Parse(m.endpoint)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s/%s/%s", m.endpoint, m.bucket, escaped)
	}
	u.Host = m.bucket + "." + u.Host
	return fmt.Sprintf("%s/%s", strings.TrimRight(u.String(), "/"), escaped)
}
