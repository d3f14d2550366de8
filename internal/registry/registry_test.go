package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terrazul-ai/tz/internal/errs"
)

func TestNewRejectsPlaintextNonLocalhost(t *testing.T) {
	if _, err := New("http://registry.example.com", ""); err == nil {
		t.Fatalf("expected rejection of plaintext non-localhost registry URL")
	}
}

func TestNewAcceptsLocalhostPlaintext(t *testing.T) {
	if _, err := New("http://localhost:8080", ""); err != nil {
		t.Fatalf("expected localhost plaintext to be accepted: %v", err)
	}
}

func TestDetailMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Detail(context.Background(), "t", "missing")
	if errs.KindOf(err) != errs.KindPackageNotFound {
		t.Fatalf("expected PackageNotFound, got %v", err)
	}
}

func TestDetailMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Detail(context.Background(), "t", "pkg")
	if errs.KindOf(err) != errs.KindAuthRequired {
		t.Fatalf("expected AuthRequired, got %v", err)
	}
}

func TestVersionsDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/packages/v1/t/starter/versions" {
			t.Errorf("unexpected path: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]VersionEntry{
			"1.0.0": {Dependencies: map[string]string{"@t/base": "^1.0.0"}, PublishedAt: "2026-01-01T00:00:00Z"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	versions, err := c.Versions(context.Background(), "t", "starter")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if versions["1.0.0"].Dependencies["@t/base"] != "^1.0.0" {
		t.Fatalf("unexpected versions response: %+v", versions)
	}
}

func TestAuthorizationHeaderSentWhenTokenPresent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(PackageDetail{})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret-token")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Detail(context.Background(), "t", "pkg"); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("got Authorization header %q", gotAuth)
	}
}

func TestIndexAdaptsClientToResolverIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]VersionEntry{
			"1.0.0": {Dependencies: map[string]string{}},
			"1.1.0": {Yanked: true, YankedReason: "security"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	idx := Index{Client: c, Ctx: context.Background()}
	versions, err := idx.Versions("@t/starter")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}
