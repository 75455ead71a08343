package app

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"myriad/api/internal/config"
	"myriad/api/internal/cursor"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/health", "", "")
	expectStatus(t, rr, http.StatusOK)
	if ok, exists := payload["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, http.StatusOK)
	if status := payload["status"]; status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	env.ping.pingErr = errors.New("connection refused")
	rr, payload = env.do(t, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	checks, _ := payload["checks"].(map[string]any)
	db, _ := checks["database"].(map[string]any)
	if db["error"] != "connection refused" {
		t.Errorf("expected database error, got %v", checks)
	}
}

func TestReadyEndpointChecksRedis(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, http.StatusOK)
	checks, _ := payload["checks"].(map[string]any)
	if _, exists := checks["redis"]; exists {
		t.Fatalf("expected no redis check without a cache, got %v", checks)
	}

	mr := miniredis.RunT(t)
	cursors := cursor.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cursors.Close() })
	svc := New(config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}, Deps{Store: env.ping, Cache: cursors})
	env.server = NewHTTPServer(svc, "*", nil)

	rr, payload = env.do(t, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, http.StatusOK)
	checks, _ = payload["checks"].(map[string]any)
	cache, _ := checks["redis"].(map[string]any)
	if cache["status"] != "ok" {
		t.Fatalf("expected redis ok, got %v", checks)
	}

	mr.Close()
	rr, payload = env.do(t, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	checks, _ = payload["checks"].(map[string]any)
	cache, _ = checks["redis"].(map[string]any)
	if cache["status"] != "error" {
		t.Fatalf("expected redis error, got %v", checks)
	}
}

func TestMetricsEndpointIsMountedOutsideAPI(t *testing.T) {
	env := newTestEnv(t)
	env.server.metricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("myriad_up 1\n"))
	})
	rr, _ := env.do(t, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "myriad_up 1\n" {
		t.Fatalf("unexpected metrics body %q", rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/nope", "", "")
	expectStatus(t, rr, http.StatusNotFound)
	expectCode(t, payload, "NOT_FOUND")
}
