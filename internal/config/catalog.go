package config

import "time"

// CatalogConfig tunes the firmware catalog cache.
type CatalogConfig struct {
	// TTL is how long a fetched catalog counts as fresh. Past it the next
	// reader triggers a refresh; the old value is still served if that
	// refresh fails.
	TTL time.Duration `envconfig:"TTL" default:"30m" validate:"gt=0"`

	// RefreshTimeout bounds one upstream catalog fetch. Refreshes run
	// detached from the requesting caller, so this is their only limit.
	RefreshTimeout time.Duration `envconfig:"REFRESH_TIMEOUT" default:"10s" validate:"gt=0"`

	// WarmInterval enables the background warmer when positive: the catalog
	// is re-read on this cadence so webhook requests rarely wait on a
	// refresh. Zero disables the warmer.
	WarmInterval time.Duration `envconfig:"WARM_INTERVAL" default:"0" validate:"min=0"`
}
