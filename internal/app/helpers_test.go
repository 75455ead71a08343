package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"myriad/api/internal/config"
	"myriad/api/internal/crawler"
	"myriad/api/internal/credential"
	"myriad/api/internal/engagement"
	"myriad/api/internal/store"
)

var (
	keyAlice = "0x" + strings.Repeat("a1", 32)
	keyBob   = "0x" + strings.Repeat("b2", 32)
	keyAdmin = "0x" + strings.Repeat("c3", 32)
)

type pingStore struct {
	*store.MemoryStore
	pingErr error
}

func (p *pingStore) Ping(context.Context) error { return p.pingErr }

type fakeCrawler struct {
	reconciled []store.Platform
	purged     int
	err        error
}

func (f *fakeCrawler) Reconcile(_ context.Context, p store.Platform) (crawler.Summary, error) {
	if f.err != nil {
		return crawler.Summary{}, f.err
	}
	f.reconciled = append(f.reconciled, p)
	return crawler.Summary{Platform: p, People: 2, Created: 5}, nil
}

func (f *fakeCrawler) PurgeRemovedContent(context.Context) (int, error) {
	f.purged++
	return 3, nil
}

func (f *fakeCrawler) RefreshProfiles(context.Context, store.Platform) (int, error) {
	return 1, nil
}

type testEnv struct {
	mem     *store.MemoryStore
	ping    *pingStore
	crawler *fakeCrawler
	server  *HTTPServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	ping := &pingStore{MemoryStore: mem}
	fc := &fakeCrawler{}
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, AdminKeys: []string{keyAdmin}}
	svc := New(cfg, Deps{
		Store:       ping,
		Credentials: credential.NewService(mem, nil),
		Engagement:  engagement.NewService(mem, nil),
		Crawler:     fc,
	})
	return &testEnv{mem: mem, ping: ping, crawler: fc, server: NewHTTPServer(svc, "*", nil)}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func (e *testEnv) login(t *testing.T, publicKey string) string {
	t.Helper()
	rr, payload := e.do(t, http.MethodPost, "/api/session/login", "", `{"publicKey":"`+publicKey+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", publicKey, rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("expected token in %v", payload)
	}
	return token
}

func (e *testEnv) seedPost(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.mem.CreatePerson(ctx, store.Person{ID: "ppl_" + id, Platform: store.PlatformReddit, PlatformAccountID: "acct_" + id, Username: "user_" + id}); err != nil {
		t.Fatalf("seed person: %v", err)
	}
	if _, err := e.mem.CreateImportedPost(ctx, store.ImportedPost{ID: id, Platform: store.PlatformReddit, TextID: "t_" + id, PeopleID: "ppl_" + id, Title: "hello", WalletAddress: "0x0"}); err != nil {
		t.Fatalf("seed post: %v", err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func expectCode(t *testing.T, payload map[string]any, want string) {
	t.Helper()
	if code, _ := payload["code"].(string); code != want {
		t.Fatalf("expected code %s, got %v", want, payload)
	}
}
