package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/templui/mediapipe/internal/ctxkeys"
	"github.com/templui/mediapipe/internal/metrics"
	"github.com/templui/mediapipe/internal/service"
)

func echoUploader(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(ctxkeys.UploaderID(r.Context())))
}

func TestAuthMiddleware(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateJWT("user-7")
	if err != nil {
		t.Fatal(err)
	}
	h := AuthMiddleware(auth)(http.HandlerFunc(echoUploader))

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "user-7"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, "user-7"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AuthCookie, Value: token}) }, "user-7"},
		{"anonymous", func(r *http.Request) {}, ""},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("uploader = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(echoUploader)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/uploads", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	req = req.WithContext(ctxkeys.WithUploaderID(req.Context(), "user-1"))
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Fatalf("authenticated: status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestRateLimitUploads(t *testing.T) {
	limited := RateLimitUploads(2, time.Minute)(echoUploader)

	call := func(uploader string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
		req = req.WithContext(ctxkeys.WithUploaderID(req.Context(), uploader))
		rec := httptest.NewRecorder()
		limited(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("a"); code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, code)
		}
	}
	if code := call("a"); code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", code)
	}
	if code := call("b"); code != http.StatusOK {
		t.Fatalf("other uploader status = %d, want 200", code)
	}

	unlimited := RateLimitUploads(0, time.Minute)(echoUploader)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		unlimited(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("limit 0 must not limit, got %d", rec.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxkeys.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("generated id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("incoming id not reused: %q", seen)
	}
}

func TestMetrics_UsesMatchedPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Chain(mux, RequestLogging, Metrics)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /api/files/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3 (one series for all ids)", got)
	}
}
