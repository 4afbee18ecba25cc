package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"

	"github.com/brokkr-labs/brokkr/internal/catalog"
)

// Project scopes a Client to one platform project. Every request is rooted
// at /v1/projects/{uid}.
type Project struct {
	client     *Client
	projectUID string
}

// NewProject binds the client to a project UID.
func NewProject(client *Client, projectUID string) *Project {
	if client == nil {
		panic("platform: client cannot be nil")
	}
	if projectUID == "" {
		panic("platform: project UID cannot be empty")
	}

	return &Project{
		client:     client,
		projectUID: projectUID,
	}
}

// UID returns the project UID this handle is bound to.
func (p *Project) UID() string {
	return p.projectUID
}

// firmwareEntry mirrors one entry of the platform's firmware listing.
// Older deployments report the target at the top level as "type"; newer
// ones nest it under "firmware".
type firmwareEntry struct {
	Version  string `json:"version"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Firmware struct {
		Target string `json:"target"`
	} `json:"firmware"`
}

// AvailableFirmware lists every firmware image published to the project.
func (p *Project) AvailableFirmware(ctx context.Context) ([]catalog.Image, error) {
	body, err := p.client.doV1(ctx, "available_firmware", http.MethodGet, p.client.v1URL(p.projectUID, "firmware", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list available firmware: %w", err)
	}

	var entries []firmwareEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode firmware listing: %w", err)
	}

	images := make([]catalog.Image, 0, len(entries))
	for _, entry := range entries {
		target := entry.Firmware.Target
		if target == "" {
			target = entry.Type
		}
		images = append(images, catalog.Image{
			Target:   target,
			Version:  entry.Version,
			Filename: entry.Filename,
		})
	}

	return images, nil
}

// CatalogFetch adapts the firmware listing to the catalog cache's fetch
// function. The cache passes the project UID back in; a Project is bound
// to exactly one, so the two must agree.
func (p *Project) CatalogFetch(ctx context.Context, projectUID string) (*catalog.Catalog, error) {
	if projectUID != p.projectUID {
		return nil, fmt.Errorf("project mismatch: bound to %s, asked for %s", p.projectUID, projectUID)
	}

	images, err := p.AvailableFirmware(ctx)
	if err != nil {
		return nil, err
	}

	return catalog.NewCatalog(images), nil
}

// CurrentFirmwareVersion reads the device's reported version for a target
// from its update history.
func (p *Project) CurrentFirmwareVersion(ctx context.Context, deviceUID string, target Target) (string, error) {
	path := fmt.Sprintf("devices/%s/dfu/%s/history", deviceUID, target)
	body, err := p.client.doV1(ctx, "firmware_history", http.MethodGet, p.client.v1URL(p.projectUID, path, nil), nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch firmware history for device %s: %w", deviceUID, err)
	}

	var payload struct {
		Current struct {
			Version string `json:"version"`
		} `json:"current"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode firmware history: %w", err)
	}

	// Empty when the device has never reported. Callers treat that as
	// unknown, not as an error.
	return payload.Current.Version, nil
}

// UpdateStatus reads the device's DFU state for a target.
func (p *Project) UpdateStatus(ctx context.Context, deviceUID string, target Target) (DFUStatus, error) {
	path := fmt.Sprintf("devices/%s/dfu/%s/status", deviceUID, target)
	body, err := p.client.doV1(ctx, "update_status", http.MethodGet, p.client.v1URL(p.projectUID, path, nil), nil)
	if err != nil {
		return DFUStatus{}, fmt.Errorf("failed to fetch update status for device %s: %w", deviceUID, err)
	}

	var status DFUStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return DFUStatus{}, fmt.Errorf("failed to decode update status: %w", err)
	}

	return status, nil
}

// RequestUpdate asks the platform to update the device's target firmware
// to the image identified by filename.
func (p *Project) RequestUpdate(ctx context.Context, deviceUID string, target Target, filename string) error {
	if filename == "" {
		return fmt.Errorf("firmware filename cannot be empty")
	}

	payload, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return fmt.Errorf("failed to encode update request: %w", err)
	}

	query := url.Values{"deviceUID": {deviceUID}}
	path := fmt.Sprintf("dfu/%s/update", target)
	if _, err := p.client.doV1(ctx, "request_update", http.MethodPost, p.client.v1URL(p.projectUID, path, query), payload); err != nil {
		return fmt.Errorf("failed to request %s update for device %s: %w", target, deviceUID, err)
	}

	return nil
}

// CancelUpdate withdraws a pending update request for the device's target.
func (p *Project) CancelUpdate(ctx context.Context, deviceUID string, target Target) error {
	query := url.Values{"deviceUID": {deviceUID}}
	path := fmt.Sprintf("dfu/%s/cancel", target)
	if _, err := p.client.doV1(ctx, "cancel_update", http.MethodPost, p.client.v1URL(p.projectUID, path, query), nil); err != nil {
		return fmt.Errorf("failed to cancel %s update for device %s: %w", target, deviceUID, err)
	}

	return nil
}
