package webhook

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/brokkr-labs/brokkr/internal/store"
)

// ErrorResponse is the standard error payload. The request ID lets an
// operator correlate a failed route delivery with the service logs.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// DecisionListResponse wraps the decision history payload.
type DecisionListResponse struct {
	Data []store.Decision `json:"data"`
}

// renderError writes a structured error with the request ID attached.
func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Error:     msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
