package config

import (
	"fmt"
	"time"
)

// PlatformConfig configures the upstream fleet-platform API client.
//
// Authentication is either OAuth2 client credentials (ClientID+ClientSecret)
// or a pre-issued session token. When both are present the session token
// wins, matching the platform's own precedence.
type PlatformConfig struct {
	Host       string `envconfig:"HOST"`
	ProjectUID string `envconfig:"PROJECT_UID"`

	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`
	SessionToken string `envconfig:"SESSION_TOKEN"`

	// Timeout bounds a single HTTP exchange, not the whole retry sequence.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s" validate:"gt=0"`

	// Client-side throttle so bursts of webhooks cannot trip the platform's
	// API quota.
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"10" validate:"gt=0"`
	RateBurst int     `envconfig:"RATE_BURST" default:"5" validate:"min=1"`

	// Retry policy for transient failures (5xx, network errors).
	RetryMaxTries    int           `envconfig:"RETRY_MAX_TRIES" default:"3" validate:"min=0"`
	RetryMaxInterval time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"5s" validate:"gt=0"`
}

// Validate performs validation on the PlatformConfig.
func (c *PlatformConfig) Validate() error {
	if _, err := parseAndValidateURL(c.Host, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid platform host: %w", err)
	}

	if err := validateNoWhitespace(c.ProjectUID, "platform project UID"); err != nil {
		return err
	}

	// Client credentials travel as a pair.
	if (c.ClientID == "") != (c.ClientSecret == "") {
		return fmt.Errorf("platform client ID and client secret must be set together")
	}

	if c.ClientID == "" && c.SessionToken == "" {
		return fmt.Errorf("platform credentials missing: set client ID/secret or a session token")
	}

	return nil
}

// UsesSessionToken reports whether requests authenticate with a pre-issued
// session token instead of OAuth2 client credentials.
func (c *PlatformConfig) UsesSessionToken() bool {
	return c.SessionToken != ""
}
