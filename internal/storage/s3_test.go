package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestS3AvatarsResolves(t *testing.T) {
	var gotKey string
	avatars := &S3Avatars{
		presign: func(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
			gotKey = key
			return "https://signed.example.com/" + bucket + "/" + key + "?exp=" + expiry.String(), nil
		},
		bucket: "avatars",
		expiry: time.Minute,
	}

	url, err := avatars.AvatarURL(context.Background(), "/profilePics/u1.jpg")
	if err != nil {
		t.Fatalf("avatar url: %v", err)
	}
	if gotKey != "profilePics/u1.jpg" {
		t.Fatalf("expected leading slash trimmed got %q", gotKey)
	}
	if url != "https://signed.example.com/avatars/profilePics/u1.jpg?exp=1m0s" {
		t.Fatalf("unexpected url %q", url)
	}

	direct, err := avatars.AvatarURL(context.Background(), "https://cdn.example.com/a.jpg")
	if err != nil || direct != "https://cdn.example.com/a.jpg" {
		t.Fatalf("expected absolute url unchanged got %q err=%v", direct, err)
	}

	empty, err := avatars.AvatarURL(context.Background(), "  ")
	if err != nil || empty != "" {
		t.Fatalf("expected empty reference to stay empty got %q", empty)
	}
}

func TestS3AvatarsPublicBaseURL(t *testing.T) {
	avatars := &S3Avatars{
		presign: func(context.Context, string, string, time.Duration) (string, error) {
			return "", errors.New("should not presign")
		},
		baseURL: "https://cdn.example.com",
	}
	url, err := avatars.AvatarURL(context.Background(), "profilePics/u1.jpg")
	if err != nil {
		t.Fatalf("avatar url: %v", err)
	}
	if url != "https://cdn.example.com/profilePics/u1.jpg" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestS3AvatarsPresignError(t *testing.T) {
	avatars := &S3Avatars{
		presign: func(context.Context, string, string, time.Duration) (string, error) {
			return "", errors.New("no credentials")
		},
	}
	if _, err := avatars.AvatarURL(context.Background(), "k.jpg"); err == nil {
		t.Fatalf("expected presign error")
	}
}

func TestNewS3AvatarsRequiresBucket(t *testing.T) {
	if _, err := NewS3Avatars(context.Background(), ObjectStoreConfig{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
