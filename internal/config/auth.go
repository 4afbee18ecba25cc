package config

import "fmt"

// AuthConfig holds the shared secret the webhook expects from callers.
// Requests present it either as "X-Api-Key: <token>" or as
// "Authorization: Bearer <token>".
type AuthConfig struct {
	Token string `envconfig:"TOKEN"`
}

// Validate performs validation on the AuthConfig. The token is always
// required: an unset secret would silently accept unauthenticated traffic.
func (c *AuthConfig) Validate(environment string) error {
	if err := validateNoWhitespace(c.Token, "auth token"); err != nil {
		return err
	}

	if environment == EnvironmentProduction && len(c.Token) < 16 {
		return fmt.Errorf("auth token must be at least 16 characters in production")
	}

	return nil
}
