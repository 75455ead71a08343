package app

import (
	"net/http"
	"testing"
)

func TestToggleEngagementRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "P1")
	token := env.login(t, keyAlice)

	rr, payload := env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"post","referenceId":"P1"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["state"] != true || payload["kind"] != "like" || payload["userId"] != keyAlice {
		t.Fatalf("unexpected mark %v", payload)
	}
	metric, _ := payload["metric"].(map[string]any)
	if metric["likes"] != float64(1) {
		t.Fatalf("expected likes=1, got %v", metric)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"post","referenceId":"P1"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["state"] != false {
		t.Fatalf("expected retracted mark, got %v", payload)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/metrics/post/P1", "", "")
	expectStatus(t, rr, http.StatusOK)
	if payload["likes"] != float64(0) {
		t.Fatalf("expected likes=0 after retract, got %v", payload)
	}
}

func TestToggleEngagementErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "P1")
	token := env.login(t, keyAlice)

	rr, payload := env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"post","referenceId":"missing"}`)
	expectStatus(t, rr, http.StatusNotFound)
	expectCode(t, payload, "REFERENCE_NOT_FOUND")

	rr, payload = env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"story","referenceId":"P1"}`)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, payload = env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"post","referenceId":"P1","kind":"love"}`)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, _ = env.do(t, http.MethodGet, "/api/metrics/post/missing", "", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestUserIDComesFromSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "P1")
	token := env.login(t, keyAlice)

	rr, payload := env.do(t, http.MethodPost, "/api/engagements", token, `{"userId":"`+keyBob+`","type":"post","referenceId":"P1"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["userId"] != keyAlice {
		t.Fatalf("expected mark owned by session key, got %v", payload["userId"])
	}
}

func TestAddCommentUpdatesPostMetric(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "P1")
	token := env.login(t, keyBob)

	rr, payload := env.do(t, http.MethodPost, "/api/posts/P1/comments", token, `{"text":"  gm  "}`)
	expectStatus(t, rr, http.StatusCreated)
	if payload["text"] != "gm" || payload["userId"] != keyBob {
		t.Fatalf("unexpected comment %v", payload)
	}
	commentID, _ := payload["id"].(string)

	rr, payload = env.do(t, http.MethodGet, "/api/metrics/post/P1", "", "")
	expectStatus(t, rr, http.StatusOK)
	if payload["comments"] != float64(1) {
		t.Fatalf("expected comments=1, got %v", payload)
	}

	rr, _ = env.do(t, http.MethodPost, "/api/engagements", token, `{"type":"comment","referenceId":"`+commentID+`","kind":"dislike"}`)
	expectStatus(t, rr, http.StatusOK)
	rr, payload = env.do(t, http.MethodGet, "/api/metrics/comment/"+commentID, "", "")
	expectStatus(t, rr, http.StatusOK)
	if payload["dislikes"] != float64(1) {
		t.Fatalf("expected dislikes=1 on comment, got %v", payload)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/posts/missing/comments", token, `{"text":"x"}`)
	expectStatus(t, rr, http.StatusNotFound)
	expectCode(t, payload, "REFERENCE_NOT_FOUND")
}

func TestGetPost(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, "P1")

	rr, payload := env.do(t, http.MethodGet, "/api/posts/P1", "", "")
	expectStatus(t, rr, http.StatusOK)
	if payload["textId"] != "t_P1" || payload["walletAddress"] != "0x0" {
		t.Fatalf("unexpected post %v", payload)
	}
	if tags, ok := payload["tags"].([]any); !ok || len(tags) != 0 {
		t.Fatalf("expected empty tags array, got %v", payload["tags"])
	}

	rr, _ = env.do(t, http.MethodGet, "/api/posts/missing", "", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/posts/search?q=hello", "", "")
	expectStatus(t, rr, http.StatusOK)
	if results, ok := payload["results"].([]any); !ok || len(results) != 0 {
		t.Fatalf("expected empty results, got %v", payload)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/posts/search", "", "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, _ = env.do(t, http.MethodGet, "/api/posts/search?q=x&platform=myspace", "", "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestExchangeRatesUnavailable(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/exchange-rates", "", "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	expectCode(t, payload, "RATES_UNAVAILABLE")
}
