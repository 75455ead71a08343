package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/auth"
	"myriad/api/internal/credential"
	"myriad/api/internal/crawler"
	"myriad/api/internal/currency"
	"myriad/api/internal/engagement"
	"myriad/api/internal/rbac"
	"myriad/api/internal/search"
	"myriad/api/internal/store"
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	metricsHandler http.Handler
}

// NewHTTPServer builds the API. metricsHandler is mounted at /metrics when
// not nil.
func NewHTTPServer(service *Service, corsOrigin string, metricsHandler http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metricsHandler: metricsHandler}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	log.WithFields(log.Fields{"public_key": session.PublicKey, "role": session.Role, "action": action, "path": r.URL.Path}).
		Warn("permission denied")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		if configured, err := s.service.PingCache(ctx); configured {
			checks["redis"] = map[string]any{"status": "ok"}
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks["redis"] = map[string]any{
					"status": "error",
					"error":  err.Error(),
				}
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			PublicKey string `json:"publicKey"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.PublicKey)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"publicKey": session.PublicKey,
			"role":      session.Role,
			"expiresAt": formatTime(session.ExpiresAt),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "publicKey": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "publicKey": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "publicKey": session.PublicKey, "role": session.Role})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/exchange-rates" {
		snapshot, err := s.service.ExchangeRates(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/posts/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "posts":
		if len(parts) == 3 && r.Method == http.MethodGet {
			post, err := s.service.GetPost(r.Context(), parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, post)
			return
		}
		if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodPost {
			session, ok := s.requireAction(w, r, rbac.ActionEngage)
			if !ok {
				return
			}
			s.handleAddComment(w, r, session, parts[2])
			return
		}
	case "metrics":
		if len(parts) == 4 && r.Method == http.MethodGet {
			metric, err := s.service.Metrics(r.Context(), store.ReferenceType(parts[2]), parts[3])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, metric)
			return
		}
	case "engagements":
		if len(parts) == 2 && r.Method == http.MethodPost {
			session, ok := s.requireAction(w, r, rbac.ActionEngage)
			if !ok {
				return
			}
			s.handleToggle(w, r, session)
			return
		}
	case "credentials":
		session, ok := s.requireAction(w, r, rbac.ActionClaim)
		if !ok {
			return
		}
		s.handleCredentials(w, r, session, parts[2:])
		return
	case "admin":
		session, ok := s.requireAction(w, r, rbac.ActionAdmin)
		if !ok {
			return
		}
		s.handleAdmin(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	platform := store.Platform(query.Get("platform"))
	if platform != "" && !platform.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown platform", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:     text,
		Platform: platform,
		Limit:    queryInt(query.Get("limit"), 20, 100),
		Offset:   queryInt(query.Get("offset"), 0, 10_000),
	}))
}

func (s *HTTPServer) handleToggle(w http.ResponseWriter, r *http.Request, session Session) {
	var body engagement.Mark
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Toggle(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, session Session, postID string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.AddComment(r.Context(), session, postID, body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleCredentials(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost,
		len(parts) == 1 && parts[0] == "requests" && r.Method == http.MethodPost:
		var claim credential.Claim
		if err := decodeBody(r, &claim); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		verify := len(parts) == 0
		result, err := s.service.LinkAccount(r.Context(), session, claim, verify)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.Disconnect(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireAction(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(raw string, fallback, max int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, credential.ErrAlreadyVerified):
		return http.StatusConflict, "ALREADY_VERIFIED", "Credential already verified", nil
	case errors.Is(err, credential.ErrAccountAlreadyClaimed):
		return http.StatusForbidden, "ACCOUNT_ALREADY_CLAIMED", credential.ErrAccountAlreadyClaimed.Error(), nil
	case errors.Is(err, credential.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER", "Credential belongs to another user", nil
	case errors.Is(err, credential.ErrInvalidClaim),
		errors.Is(err, engagement.ErrInvalidType),
		errors.Is(err, engagement.ErrInvalidKind),
		errors.Is(err, engagement.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, engagement.ErrReferenceNotFound):
		return http.StatusNotFound, "REFERENCE_NOT_FOUND", "Reference not found", nil
	case errors.Is(err, crawler.ErrUnknownPlatform):
		return http.StatusNotFound, "UNKNOWN_PLATFORM", "Platform is not crawled", nil
	case errors.Is(err, crawler.ErrProfilesUnsupported):
		return http.StatusUnprocessableEntity, "PROFILES_UNSUPPORTED", "Platform has no profile source", nil
	case errors.Is(err, currency.ErrNoRates):
		return http.StatusServiceUnavailable, "RATES_UNAVAILABLE", "Exchange rates are not available yet", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflicting update, retry", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
