package facade

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTAuth_RejectsMissingToken(t *testing.T) {
	auth := NewJWTAuth("secret")
	called := false
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Fatal("expected the wrapped handler not to run")
	}
}

func TestJWTAuth_AllowsHealthzWithoutAuth(t *testing.T) {
	auth := NewJWTAuth("secret")
	called := false
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !called {
		t.Fatalf("expected /healthz to bypass auth and reach the handler, status=%d", rec.Code)
	}
}

func TestJWTAuth_AcceptsValidTokenAndAttachesRequester(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var gotRequester string
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequester = requesterFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotRequester != "user-42" {
		t.Fatalf("requester = %q, want user-42", gotRequester)
	}
}

func TestJWTAuth_RejectsTokenSignedWithWrongSecret(t *testing.T) {
	other := NewJWTAuth("wrong-secret")
	token, err := other.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	auth := NewJWTAuth("secret")
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/v1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
