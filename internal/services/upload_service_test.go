package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	estados_errors "estados/pkg/errors"
)

type fakeObjectStore struct {
	keys []string
	err  error
}

func (f *fakeObjectStore) PresignPut(_ context.Context, key, contentType string, size int64) (string, map[string]string, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	f.keys = append(f.keys, key)
	return "https://bucket.example/" + key + "?sig=1", map[string]string{"Content-Type": contentType}, nil
}

func (f *fakeObjectStore) FileURL(key string) string {
	return "https://cdn.example/" + key
}

func TestPresignImage(t *testing.T) {
	store := &fakeObjectStore{}
	svc := NewUploadService(store, nil)
	author := uuid.New()

	img, err := svc.PresignImage(context.Background(), author, "image/png", 2048)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	prefix := "estados/" + author.String() + "/"
	if !strings.HasPrefix(img.Key, prefix) || !strings.HasSuffix(img.Key, ".png") {
		t.Fatalf("unexpected key %q", img.Key)
	}
	if img.PublicURL != "https://cdn.example/"+img.Key || img.Headers["Content-Type"] != "image/png" {
		t.Fatalf("unexpected result %+v", img)
	}
}

func TestPresignImageRejects(t *testing.T) {
	svc := NewUploadService(&fakeObjectStore{}, nil)
	author := uuid.New()
	cases := []struct {
		name        string
		author      uuid.UUID
		contentType string
		size        int64
		want        error
	}{
		{"anonymous", uuid.Nil, "image/png", 10, estados_errors.ErrUnauthorized},
		{"not an image", author, "application/pdf", 10, estados_errors.ErrInvalidInput},
		{"empty", author, "image/jpeg", 0, estados_errors.ErrInvalidInput},
		{"too large", author, "image/webp", MaxImageBytes + 1, estados_errors.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := svc.PresignImage(context.Background(), tc.author, tc.contentType, tc.size); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	disabled := NewUploadService(nil, nil)
	if _, err := disabled.PresignImage(context.Background(), author, "image/png", 10); !errors.Is(err, estados_errors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
