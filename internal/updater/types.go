package updater

import (
	"github.com/brokkr-labs/brokkr/internal/ruleengine"
)

// Event is one device check request, normally delivered by the webhook.
type Event struct {
	// DeviceUID identifies the reporting device.
	DeviceUID string

	// Fleets lists the fleet UIDs the device belongs to, most specific
	// first. May be empty.
	Fleets []string

	// Body is the raw snapshot payload the caller supplied. The service
	// overlays the routing fields and fills in missing firmware versions
	// before evaluation.
	Body ruleengine.Snapshot
}

// ActionStatus classifies what the updater did for one firmware target.
type ActionStatus string

const (
	// StatusNone means the winning rule requests nothing for this target.
	StatusNone ActionStatus = "none"

	// StatusSkipped means the device already runs the desired version.
	StatusSkipped ActionStatus = "skipped"

	// StatusDeferred means another update is still in flight, so nothing
	// was requested this cycle.
	StatusDeferred ActionStatus = "deferred"

	// StatusRequested means an update request was issued to the platform.
	StatusRequested ActionStatus = "requested"
)

// Action is the updater's verdict for a single firmware target.
type Action struct {
	Target string       `json:"target"`
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`
	Status ActionStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Outcome is the full result of processing one event. It is what the
// webhook returns and what the decision log stores.
type Outcome struct {
	DeviceUID string   `json:"device_uid"`
	RuleID    string   `json:"rule_id,omitempty"`
	Matched   bool     `json:"matched"`
	Actions   []Action `json:"actions,omitempty"`
}
