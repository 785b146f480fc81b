package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/archives",
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLocalStorage_PutGetRoundTrip(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()
	body := []byte(`[{"ID":1,"Kind":"usage"}]`)

	key := "archives/transactions/2026/05/export.json"
	err := s.Put(ctx, key, bytes.NewReader(body), PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	reader, info, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body = %q, want %q", got, body)
	}
	if info.Size != int64(len(body)) {
		t.Errorf("size = %d, want %d", info.Size, len(body))
	}
	if info.ContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", info.ContentType)
	}
}

func TestLocalStorage_PutWithoutOverwriteRejectsExisting(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	key := "archives/transactions/2026/05/export.json"
	if err := s.Put(ctx, key, strings.NewReader("first"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := s.Put(ctx, key, strings.NewReader("second"), PutOptions{})
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("error = %v, want ErrKeyExists", err)
	}

	// The first write must survive the rejected one.
	reader, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "first" {
		t.Errorf("body = %q, want the original write", got)
	}
}

func TestLocalStorage_GetMissingKeyIsNotFound(t *testing.T) {
	s := newTestLocalStorage(t)

	_, _, err := s.Get(context.Background(), "archives/transactions/2026/05/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestLocalStorage_ExistsAndDelete(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()
	key := "archives/transactions/2026/05/export.json"

	ok, err := s.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("exists before put = (%v, %v), want (false, nil)", ok, err)
	}

	if err := s.Put(ctx, key, strings.NewReader("body"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("exists after put = (%v, %v), want (true, nil)", ok, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = s.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("exists after delete = (%v, %v), want (false, nil)", ok, err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestLocalStorage_URL(t *testing.T) {
	s := newTestLocalStorage(t)

	url, err := s.URL(context.Background(), "archives/transactions/2026/05/export.json", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	want := "http://localhost:8080/archives/archives/transactions/2026/05/export.json"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestLocalStorage_RejectsTraversalKeys(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	keys := []string{
		"",
		"../outside.json",
		"archives/../../etc/passwd",
	}
	for _, key := range keys {
		t.Run("key="+key, func(t *testing.T) {
			if err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Put error = %v, want ErrInvalidKey", err)
			}
			if _, _, err := s.Get(ctx, key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Get error = %v, want ErrInvalidKey", err)
			}
			if _, err := s.Exists(ctx, key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Exists error = %v, want ErrInvalidKey", err)
			}
		})
	}
}
