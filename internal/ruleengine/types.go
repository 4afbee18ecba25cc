// Package ruleengine decides which firmware a device should run.
// An ordered set of declarative rules is evaluated against a point-in-time
// device snapshot; the first rule whose conditions all hold wins and names
// the desired firmware version per target.
package ruleengine

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Snapshot is the device state a rule set is evaluated against. Values
// follow the JSON object model (string, float64, bool, nil, []any,
// map[string]any), which is exactly what decoding a webhook body produces.
type Snapshot map[string]any

// ParseSnapshot decodes a JSON object into a Snapshot.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}

// Conditions maps a dot-separated field path to the matcher that must accept
// the resolved value. A nil matcher is unconstrained: it holds no matter
// what the field resolves to, or whether it resolves at all.
type Conditions map[string]Matcher

// TargetVersions names the desired firmware version per update target
// (e.g. "notecard", "host"). A nil map on a matched rule means the rule is a
// guard: it matches and deliberately requests nothing.
type TargetVersions map[string]string

// Rule is one entry of an ordered rule set.
type Rule struct {
	// ID identifies the rule in results, logs and the decision log.
	// Left empty, one is synthesized from the rule's position at load time.
	ID string `json:"id"`

	// Conditions must all hold for the rule to match. A nil map matches
	// every snapshot (catch-all rule).
	Conditions Conditions `json:"-"`

	// Targets are the firmware versions to converge on when this rule wins.
	Targets TargetVersions `json:"targets,omitempty"`
}

// Result is the outcome of evaluating a rule set against one snapshot.
type Result struct {
	// Matched reports whether any rule held. When false the remaining
	// fields are zero: no rule means no opinion, not an error.
	Matched bool `json:"matched"`

	// RuleID is the winning rule.
	RuleID string `json:"rule_id,omitempty"`

	// Targets are the winning rule's desired versions; nil for guard rules.
	Targets TargetVersions `json:"targets,omitempty"`

	// Faults is the diagnostic trail: every predicate error or panic
	// encountered on the way to this result. A fault fails its rule closed
	// but never aborts the evaluation.
	Faults []Fault `json:"faults,omitempty"`
}

// Fault records a single predicate failure during evaluation.
type Fault struct {
	RuleID string `json:"rule_id"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}
