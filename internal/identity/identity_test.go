package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesCookie(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !IsValidAnonID(seen) {
		t.Fatalf("expected generated anon id, got %q", seen)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != seen {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("dev cookies must not be Secure")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	const id = "anon_0123456789abcdef0123456789abcdef"
	var seen string
	h := Middleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != id {
		t.Fatalf("expected %s, got %s", id, seen)
	}
	if c := w.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected refreshed secure cookie, got %+v", c)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "anon_../../etc" || !IsValidAnonID(seen) {
		t.Fatalf("forged cookie should be replaced, got %q", seen)
	}
}
