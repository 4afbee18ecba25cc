package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlatformConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() PlatformConfig {
		return PlatformConfig{
			Host:             "https://api.fleet.example.com",
			ProjectUID:       "app:0647fc3f",
			SessionToken:     "session-token",
			Timeout:          10 * time.Second,
			RateLimit:        10,
			RateBurst:        5,
			RetryMaxTries:    3,
			RetryMaxInterval: 5 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*PlatformConfig)
		wantErr string
	}{
		{
			name:   "Should accept a session token configuration",
			mutate: func(*PlatformConfig) {},
		},
		{
			name: "Should accept a client credentials configuration",
			mutate: func(c *PlatformConfig) {
				c.SessionToken = ""
				c.ClientID = "client-id"
				c.ClientSecret = "client-secret"
			},
		},
		{
			name: "Should reject a missing host",
			mutate: func(c *PlatformConfig) {
				c.Host = ""
			},
			wantErr: "invalid platform host",
		},
		{
			name: "Should reject a non-http scheme",
			mutate: func(c *PlatformConfig) {
				c.Host = "ftp://api.fleet.example.com"
			},
			wantErr: "invalid platform host",
		},
		{
			name: "Should reject a missing project UID",
			mutate: func(c *PlatformConfig) {
				c.ProjectUID = ""
			},
			wantErr: "project UID",
		},
		{
			name: "Should reject a client ID without a secret",
			mutate: func(c *PlatformConfig) {
				c.SessionToken = ""
				c.ClientID = "client-id"
			},
			wantErr: "must be set together",
		},
		{
			name: "Should reject a configuration with no credentials at all",
			mutate: func(c *PlatformConfig) {
				c.SessionToken = ""
			},
			wantErr: "credentials missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPlatformConfigUsesSessionToken(t *testing.T) {
	t.Parallel()

	assert.True(t, (&PlatformConfig{SessionToken: "tok"}).UsesSessionToken())
	assert.False(t, (&PlatformConfig{ClientID: "id", ClientSecret: "sec"}).UsesSessionToken())
}
