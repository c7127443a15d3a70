// Package storage resolves stored profile-image references into URLs a
// client can load.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStoreConfig describes the bucket that holds profile images.
type ObjectStoreConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	URLExpiry     time.Duration
}

// AvatarResolver turns a profile-image reference into a displayable URL.
type AvatarResolver interface {
	AvatarURL(ctx context.Context, ref string) (string, error)
}

// Passthrough returns references unchanged. It is used when no object store
// is configured and references are already URLs.
type Passthrough struct{}

// AvatarURL implements AvatarResolver.
func (Passthrough) AvatarURL(_ context.Context, ref string) (string, error) {
	return strings.TrimSpace(ref), nil
}

// S3Avatars presigns object keys in the configured bucket. References that
// are already absolute URLs are returned unchanged.
type S3Avatars struct {
	presign func(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	bucket  string
	baseURL string
	expiry  time.Duration
}

// NewS3Avatars configures a presigning client for the object store.
func NewS3Avatars(ctx context.Context, cfg ObjectStoreConfig) (*S3Avatars, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 avatars: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	presignClient := s3.NewPresignClient(client)

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3Avatars{
		presign: func(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
			req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(expiry))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		expiry:  expiry,
	}, nil
}

// AvatarURL implements AvatarResolver. With a public base URL configured the
// object is addressed directly instead of presigned.
func (s *S3Avatars) AvatarURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || isAbsoluteURL(ref) {
		return ref, nil
	}

	key := strings.TrimLeft(ref, "/")
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key), nil
	}

	signed, err := s.presign(ctx, s.bucket, key, s.expiry)
	if err != nil {
		return "", fmt.Errorf("presign avatar %s: %w", key, err)
	}
	return signed, nil
}

func isAbsoluteURL(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var (
	_ AvatarResolver = Passthrough{}
	_ AvatarResolver = (*S3Avatars)(nil)
)
