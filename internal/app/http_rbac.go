package app

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/store"
)

// Admin triggers. Every route here has already passed rbac.ActionAdmin.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	entry := log.WithField("admin", session.PublicKey)

	switch {
	case len(parts) == 2 && parts[0] == "reconcile":
		platform := store.Platform(parts[1])
		entry.WithField("platform", platform).Info("manual reconcile requested")
		summary, err := s.service.Reconcile(r.Context(), platform)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case len(parts) == 1 && parts[0] == "purge":
		entry.Info("manual purge requested")
		removed, err := s.service.Purge(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	case len(parts) == 2 && parts[0] == "profiles":
		platform := store.Platform(parts[1])
		entry.WithField("platform", platform).Info("manual profile refresh requested")
		refreshed, err := s.service.RefreshProfiles(r.Context(), platform)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"refreshed": refreshed})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
