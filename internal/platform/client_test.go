package platform

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/testsupport"
)

const testProjectUID = "app:123e4567-e89b-12d3-a456-426614174000"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sessionConfig authenticates with a static session token so tests that do
// not care about OAuth skip the token endpoint entirely.
func sessionConfig(host string) *config.PlatformConfig {
	return &config.PlatformConfig{
		Host:             host,
		ProjectUID:       testProjectUID,
		SessionToken:     "sess-token-1",
		Timeout:          5 * time.Second,
		RateLimit:        1000,
		RateBurst:        100,
		RetryMaxTries:    3,
		RetryMaxInterval: 20 * time.Millisecond,
	}
}

func oauthConfig(host string) *config.PlatformConfig {
	cfg := sessionConfig(host)
	cfg.SessionToken = ""
	cfg.ClientID = "client-1"
	cfg.ClientSecret = "secret-1"
	return cfg
}

// --- Happy Paths ---

func TestClient_SessionTokenAuth(t *testing.T) {
	t.Run("Should send the session token on every request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "sess-token-1", r.Header.Get("X-Session-Token"))
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		project := NewProject(NewClient(testLogger(), sessionConfig(server.URL)), testProjectUID)

		images, err := project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		assert.Empty(t, images)
	})
}

func TestClient_OAuth(t *testing.T) {
	// newOAuthServer serves the token endpoint plus a v1 stub, counting
	// how often each is hit.
	newOAuthServer := func(t *testing.T, tokenCalls, apiCalls *atomic.Int32, expiresIn int) *httptest.Server {
		t.Helper()

		mux := http.NewServeMux()
		mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)

			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
			assert.Equal(t, "client-1", r.PostFormValue("client_id"))
			assert.Equal(t, "secret-1", r.PostFormValue("client_secret"))

			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":` + strconv.Itoa(expiresIn) + `}`))
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			apiCalls.Add(1)
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			assert.Empty(t, r.Header.Get("X-Session-Token"))
			_, _ = w.Write([]byte(`[]`))
		})

		return httptest.NewServer(mux)
	}

	t.Run("Should mint the token once and reuse it while valid", func(t *testing.T) {
		var tokenCalls, apiCalls atomic.Int32
		server := newOAuthServer(t, &tokenCalls, &apiCalls, 30)
		defer server.Close()

		project := NewProject(NewClient(testLogger(), oauthConfig(server.URL)), testProjectUID)

		_, err := project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		_, err = project.AvailableFirmware(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int32(1), tokenCalls.Load())
		assert.Equal(t, int32(2), apiCalls.Load())
	})

	t.Run("Should refresh the token when it nears expiry", func(t *testing.T) {
		var tokenCalls, apiCalls atomic.Int32
		server := newOAuthServer(t, &tokenCalls, &apiCalls, 30)
		defer server.Close()

		client := NewClient(testLogger(), oauthConfig(server.URL))
		current := time.Now()
		client.now = func() time.Time { return current }
		project := NewProject(client, testProjectUID)

		_, err := project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		require.Equal(t, int32(1), tokenCalls.Load())

		// The token lives 30 minutes. Just inside the refresh skew it must
		// be minted again.
		current = current.Add(30*time.Minute - 10*time.Second)

		_, err = project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), tokenCalls.Load())
	})

	t.Run("Should fail fast when the token endpoint rejects credentials", func(t *testing.T) {
		var tokenCalls, apiCalls atomic.Int32

		mux := http.NewServeMux()
		mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			apiCalls.Add(1)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		project := NewProject(NewClient(testLogger(), oauthConfig(server.URL)), testProjectUID)

		_, err := project.AvailableFirmware(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)

		// Bad credentials are not retried and never reach the API.
		assert.Equal(t, int32(1), tokenCalls.Load())
		assert.Equal(t, int32(0), apiCalls.Load())
	})

	t.Run("Should drop the cached token after an authentication failure", func(t *testing.T) {
		var tokenCalls, apiCalls atomic.Int32

		mux := http.NewServeMux()
		mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":30}`))
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// The first token is treated as revoked upstream.
			if apiCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[]`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		project := NewProject(NewClient(testLogger(), oauthConfig(server.URL)), testProjectUID)

		_, err := project.AvailableFirmware(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Equal(t, int32(1), tokenCalls.Load())

		_, err = project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), tokenCalls.Load(), "rejected token should be re-minted")
	})
}

func TestClient_Ping(t *testing.T) {
	t.Run("Should reach the ping route without credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ping", r.URL.Path)
			assert.Empty(t, r.Header.Get("X-Session-Token"))
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewClient(testLogger(), sessionConfig(server.URL))

		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("Should treat client-level answers as reachable", func(t *testing.T) {
		// A 404 still proves the platform is up; only 5xx marks it down.
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(testLogger(), sessionConfig(server.URL))

		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("Should fail on server errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(testLogger(), sessionConfig(server.URL))

		err := client.Ping(context.Background())
		require.ErrorContains(t, err, "platform ping returned status 500")
	})

	t.Run("Should fail when the host is unreachable", func(t *testing.T) {
		cfg := sessionConfig("http://127.0.0.1:1")
		cfg.Timeout = 500 * time.Millisecond

		client := NewClient(testLogger(), cfg)

		err := client.Ping(context.Background())
		require.ErrorContains(t, err, "platform unreachable")
	})
}

// --- Error Handling ---

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    error
		wantStatus int
	}{
		{
			name:    "Should map 401 to ErrUnauthorized",
			status:  http.StatusUnauthorized,
			wantErr: ErrUnauthorized,
		},
		{
			name:    "Should map 403 to ErrUnauthorized",
			status:  http.StatusForbidden,
			wantErr: ErrUnauthorized,
		},
		{
			name:    "Should map 404 to ErrNotFound",
			status:  http.StatusNotFound,
			wantErr: ErrNotFound,
		},
		{
			name:       "Should wrap other client errors in APIError",
			status:     http.StatusTeapot,
			wantStatus: http.StatusTeapot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			project := NewProject(NewClient(testLogger(), sessionConfig(server.URL)), testProjectUID)

			_, err := project.AvailableFirmware(context.Background())
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantStatus, apiErr.Status)
				assert.Equal(t, "nope", apiErr.Body)
			}

			assert.Equal(t, int32(1), hits.Load(), "client errors must not be retried")
		})
	}
}

func TestClient_Retries(t *testing.T) {
	t.Run("Should retry transient server errors", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		project := NewProject(NewClient(testLogger(), sessionConfig(server.URL)), testProjectUID)

		_, err := project.AvailableFirmware(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("Should give up after the configured retries", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}))
		defer server.Close()

		cfg := sessionConfig(server.URL)
		cfg.RetryMaxTries = 2
		project := NewProject(NewClient(testLogger(), cfg), testProjectUID)

		_, err := project.AvailableFirmware(context.Background())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, "boom", apiErr.Body)
		assert.Equal(t, int32(3), hits.Load(), "one initial attempt plus two retries")
	})

	t.Run("Should abort the backoff when the context expires", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		cfg := sessionConfig(server.URL)
		cfg.RetryMaxTries = 5
		cfg.RetryMaxInterval = 5 * time.Second

		project := NewProject(NewClient(testLogger(), cfg), testProjectUID)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := project.AvailableFirmware(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), hits.Load())
	})
}

// --- Metrics ---

func TestClient_Metrics(t *testing.T) {
	t.Run("Should record requests by operation and code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		project := NewProject(NewClient(testLogger(), sessionConfig(server.URL)), testProjectUID)

		labels := map[string]string{
			"operation": "available_firmware",
			"code":      "200",
		}
		testsupport.AssertMetricDelta(t, "brokkr_platform_requests_total", labels, 1, func() {
			_, err := project.AvailableFirmware(context.Background())
			require.NoError(t, err)
		})

		testsupport.AssertHistogramRecorded(t, "brokkr_platform_request_duration_seconds", map[string]string{
			"operation": "available_firmware",
		})
	})
}
