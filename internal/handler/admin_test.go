package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/studyhallhq/studyhall/internal/storage"
)

// newArchiveTestMux wires an AdminHandler over local storage rooted in a
// temp dir, with a pass-through in place of the admin auth middleware.
func newArchiveTestMux(t *testing.T) (*http.ServeMux, storage.Storage) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/archives",
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	h := NewAdminHandler(nil, nil, store, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, func(next http.Handler) http.Handler { return next })
	return mux, store
}

func putArchive(t *testing.T, store storage.Storage, key, body string) {
	t.Helper()
	err := store.Put(context.Background(), key, strings.NewReader(body),
		storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAdminArchiveDownload(t *testing.T) {
	mux, store := newArchiveTestMux(t)
	key := "archives/transactions/2026/05/export.json"
	putArchive(t, store, key, `[{"ID":1}]`)

	req := httptest.NewRequest("GET", "/api/admin/archives/"+key, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}
	if rec.Body.String() != `[{"ID":1}]` {
		t.Errorf("body = %q, want the stored export", rec.Body.String())
	}
}

func TestAdminArchiveDownload_MissingKeyIs404(t *testing.T) {
	mux, _ := newArchiveTestMux(t)

	req := httptest.NewRequest("GET", "/api/admin/archives/archives/transactions/2026/05/missing.json", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminArchiveDelete(t *testing.T) {
	mux, store := newArchiveTestMux(t)
	key := "archives/transactions/2026/05/export.json"
	putArchive(t, store, key, `[]`)

	req := httptest.NewRequest("DELETE", "/api/admin/archives/"+key, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("archive still exists after delete")
	}

	// A second delete reports the archive gone.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/admin/archives/"+key, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status on second delete = %d, want 404", rec.Code)
	}
}

func TestAdminArchiveLink(t *testing.T) {
	mux, store := newArchiveTestMux(t)
	key := "archives/transactions/2026/05/export.json"
	putArchive(t, store, key, `[]`)

	body := `{"key":"` + key + `","ttl_minutes":30}`
	req := httptest.NewRequest("POST", "/api/admin/archive-links", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Key != key {
		t.Errorf("key = %q, want %q", resp.Key, key)
	}
	if !strings.HasSuffix(resp.URL, key) {
		t.Errorf("url = %q, want a link to the archive key", resp.URL)
	}
}

func TestAdminArchiveLink_BadRequests(t *testing.T) {
	mux, _ := newArchiveTestMux(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"negative ttl", `{"key":"archives/x.json","ttl_minutes":-1}`, http.StatusBadRequest},
		{"missing archive", `{"key":"archives/transactions/2026/05/missing.json"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/admin/archive-links", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
