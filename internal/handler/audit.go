package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/alert-console/internal/audit"
	log "github.com/sirupsen/logrus"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditHandler exposes the recent action trail to admins.
type AuditHandler struct {
	recorder audit.Recorder
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(recorder audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// RegisterRoutes registers audit endpoints on the given Chi router.
func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.List)
}

// List returns the newest entries. ?limit= caps the count (default 50, max 500).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.recorder.Recent(r.Context(), limit)
	if err != nil {
		log.WithError(err).Error("failed to list audit entries")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
