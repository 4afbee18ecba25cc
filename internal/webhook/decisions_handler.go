package webhook

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/brokkr-labs/brokkr/internal/logger"
	"github.com/brokkr-labs/brokkr/internal/store"
)

// handleListDecisions processes the GET /v1/decisions request. The route
// only exists when a decision log is configured.
//
// Query parameters:
//   - device: required device UID.
//   - limit: optional page size, defaults to 20, capped at 100.
func (a *API) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	device := strings.TrimSpace(r.URL.Query().Get("device"))
	if device == "" {
		renderError(w, r, http.StatusBadRequest, "device is required")
		return
	}

	limit := defaultHistoryLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			renderError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	decisions, err := a.decisions.RecentDecisions(r.Context(), device, limit)
	if err != nil {
		log.Error("failed to read decision history",
			slog.String("device_uid", device),
			slog.Any("error", err),
		)
		renderError(w, r, http.StatusInternalServerError, "failed to read decision history")
		return
	}

	// A device with no history is an empty list, not a 404.
	if decisions == nil {
		decisions = []store.Decision{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, DecisionListResponse{Data: decisions})
}
