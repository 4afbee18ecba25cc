package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// liveness responds with 200 OK if the HTTP server is running.
// It is used by Kubernetes to restart the pod if the process is deadlocked.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness checks all registered dependencies in parallel.
// Returns 200 OK only if every checker passes. Used by Kubernetes to route traffic.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	// Enforce the configured timeout to ensure we respond to Kubernetes in time.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	statusMap, healthy := s.runChecks(ctx)

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	// The encoder error is ignored: the status code is already on the wire
	// and the JSON body exists for human debugging only.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": statusMap,
	})
}

// runChecks fans the registered checkers out in parallel and collects their
// verdicts. One slow dependency must not serialize the rest.
func (s *Server) runChecks(ctx context.Context) (map[string]string, bool) {
	statusMap := make(map[string]string, len(s.checkers))
	healthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// Log as WARN to avoid alerting noise; Kubernetes will retry.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				statusMap[c.Name()] = fmt.Sprintf("down: %v", err)
				healthy = false
			} else {
				statusMap[c.Name()] = "up"
			}
		}(checker)
	}

	wg.Wait()

	return statusMap, healthy
}
