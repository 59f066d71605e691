package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sathlab/medq/internal/log"
)

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(t)

	if _, err := NewServer(ServerConfig{Sessions: store}); err == nil {
		t.Error("NewServer() accepted a nil responder")
	}
	if _, err := NewServer(ServerConfig{Responder: &stubResponder{}}); err == nil {
		t.Error("NewServer() accepted a nil session store")
	}
	if _, err := NewServer(ServerConfig{Responder: &stubResponder{}, Sessions: store}); err != nil {
		t.Errorf("NewServer() with nil logger: %v", err)
	}
}

func TestHealth_Liveness(t *testing.T) {
	t.Parallel()

	srv, _ := newSessionServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHealth_ReadinessWithoutPool(t *testing.T) {
	t.Parallel()

	srv, _ := newSessionServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a database pool", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != "not_ready" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestHealth_BypassesRateLimit(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(ServerConfig{
		Responder: &stubResponder{},
		Sessions:  newMemoryStore(t),
		RateBurst: 1,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	// Exhaust the single client's budget on an API route.
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health probe status = %d after rate limiting, want 200", w.Code)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	t.Parallel()

	srv, _ := newSessionServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
