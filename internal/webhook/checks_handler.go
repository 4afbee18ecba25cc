package webhook

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	json "github.com/goccy/go-json"

	"github.com/brokkr-labs/brokkr/internal/logger"
	"github.com/brokkr-labs/brokkr/internal/ruleengine"
	"github.com/brokkr-labs/brokkr/internal/updater"
)

// handleCheck processes the POST /v1/checks request.
//
// Responsibilities:
// 1. Decodes the JSON payload into a device snapshot.
// 2. Validates the routing fields (device required, fleets well-formed).
// 3. Runs the firmware update pipeline.
// 4. Returns the full decision with a 200 status.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode Request
	// The payload is schemaless beyond the routing fields: rules may
	// predicate on any key the device reports.
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)

	var body ruleengine.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderError(w, r, http.StatusRequestEntityTooLarge, "request body exceeds limit")
			return
		}
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		renderError(w, r, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}

	// 2. Validate routing fields
	device, _ := body["device"].(string)
	device = strings.TrimSpace(device)
	if device == "" {
		renderError(w, r, http.StatusBadRequest, "device is required")
		return
	}

	fleets, err := fleetList(body)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// 3. Run the pipeline
	outcome, err := a.checks.Process(r.Context(), updater.Event{
		DeviceUID: device,
		Fleets:    fleets,
		Body:      body,
	})
	if err != nil {
		// The decision could not be completed (platform unreachable,
		// catalog missing an image). 502 tells the route to retry later.
		log.Error("device check failed",
			slog.String("device_uid", device),
			slog.Any("error", err),
		)
		renderError(w, r, http.StatusBadGateway, "device check failed: "+err.Error())
		return
	}

	// 4. Return the decision
	render.Status(r, http.StatusOK)
	render.JSON(w, r, outcome)
}

// fleetList extracts the optional fleets field. JSON arrays decode as
// []any, so each element is checked individually.
func fleetList(body ruleengine.Snapshot) ([]string, error) {
	raw, ok := body["fleets"]
	if !ok || raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("fleets must be an array of strings")
	}

	fleets := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("fleets must be an array of strings")
		}
		fleets = append(fleets, s)
	}

	return fleets, nil
}
