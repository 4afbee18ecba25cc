// Package updater decides, for one reporting device at a time, whether
// firmware update requests should be issued, and issues them. It assembles
// the evaluation snapshot, runs the rule engine, guards against updates
// already in flight and turns the winning rule's target versions into
// platform DFU requests.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brokkr-labs/brokkr/internal/catalog"
	"github.com/brokkr-labs/brokkr/internal/observability"
	"github.com/brokkr-labs/brokkr/internal/platform"
	"github.com/brokkr-labs/brokkr/internal/ruleengine"
)

// PlatformAPI is the slice of the platform client the updater drives.
type PlatformAPI interface {
	CurrentFirmwareVersion(ctx context.Context, deviceUID string, target platform.Target) (string, error)
	UpdateStatus(ctx context.Context, deviceUID string, target platform.Target) (platform.DFUStatus, error)
	RequestUpdate(ctx context.Context, deviceUID string, target platform.Target, filename string) error
}

// CatalogGetter hands out the project's firmware catalog.
type CatalogGetter interface {
	Get(ctx context.Context, projectUID string) (*catalog.Catalog, error)
}

// Recorder persists outcomes for later inspection. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Config holds the configuration for the updater service.
type Config struct {
	// ProjectUID scopes catalog lookups.
	ProjectUID string

	// TargetPriority is the order update requests are issued in. Targets
	// a rule names beyond this list follow in sorted order.
	TargetPriority []string
}

// Service orchestrates one device check end to end.
type Service struct {
	logger   *slog.Logger
	config   Config
	engine   *ruleengine.Engine
	rules    ruleengine.RuleSet
	catalog  CatalogGetter
	api      PlatformAPI
	recorder Recorder
}

// New creates a new updater service. The recorder may be nil, which
// disables decision persistence.
func New(logger *slog.Logger, cfg Config, engine *ruleengine.Engine, rules ruleengine.RuleSet, catalogGetter CatalogGetter, api PlatformAPI, recorder Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if engine == nil {
		panic("updater: engine cannot be nil")
	}
	if catalogGetter == nil {
		panic("updater: catalog getter cannot be nil")
	}
	if api == nil {
		panic("updater: platform API cannot be nil")
	}
	if cfg.ProjectUID == "" {
		panic("updater: project UID cannot be empty")
	}

	if len(cfg.TargetPriority) == 0 {
		cfg.TargetPriority = []string{string(platform.TargetNotecard), string(platform.TargetHost)} // Safe default
	}

	return &Service{
		logger:   logger,
		config:   cfg,
		engine:   engine,
		rules:    rules,
		catalog:  catalogGetter,
		api:      api,
		recorder: recorder,
	}
}

// Process runs one device check: assemble the snapshot, evaluate the rule
// set, and issue whatever update requests the winning rule calls for.
//
// A returned error means the check could not complete (platform failure,
// unknown firmware image); the caller decides how to surface that. A clean
// "no rule matched" or "nothing to do" is a normal Outcome, not an error.
func (s *Service) Process(ctx context.Context, event Event) (Outcome, error) {
	if event.DeviceUID == "" {
		return Outcome{}, fmt.Errorf("device UID cannot be empty")
	}

	log := s.logger.With(slog.String("device_uid", event.DeviceUID))

	// 1. Assemble the evaluation snapshot.
	snapshot, err := s.assembleSnapshot(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	// 2. Evaluate the rule set.
	start := time.Now()
	result := s.engine.Evaluate(s.rules, snapshot)
	observability.EngineEvalDuration.Observe(time.Since(start).Seconds())

	if result.Matched {
		observability.EngineEvaluationsTotal.WithLabelValues("matched").Inc()
	} else {
		observability.EngineEvaluationsTotal.WithLabelValues("unmatched").Inc()
	}
	if len(result.Faults) > 0 {
		observability.EnginePredicateFaults.Add(float64(len(result.Faults)))
		log.Warn("predicate faults during evaluation", slog.Int("faults", len(result.Faults)))
	}

	// 3. No rule matched: no opinion, no platform calls.
	if !result.Matched {
		return s.finish(ctx, log, Outcome{DeviceUID: event.DeviceUID}), nil
	}

	outcome := Outcome{
		DeviceUID: event.DeviceUID,
		RuleID:    result.RuleID,
		Matched:   true,
	}

	// 4. Guard rule: requirements met, deliberately request nothing.
	if result.Targets == nil {
		return s.finish(ctx, log, outcome), nil
	}

	// 5. Hold everything while any configured target is mid-update.
	// Interrupting a running DFU can brick the slower target.
	pending, err := s.pendingTarget(ctx, event.DeviceUID)
	if err != nil {
		return Outcome{}, err
	}
	if pending != "" {
		outcome.Actions = s.deferAll(snapshot, result.Targets, pending)
		return s.finish(ctx, log, outcome), nil
	}

	// 6. Act on each target in priority order.
	for _, target := range s.orderedTargets(result.Targets) {
		action, err := s.applyTarget(ctx, event.DeviceUID, snapshot, target, result.Targets[target])
		if err != nil {
			return Outcome{}, err
		}
		outcome.Actions = append(outcome.Actions, action)
	}

	return s.finish(ctx, log, outcome), nil
}

// assembleSnapshot builds the evaluation input: the raw webhook body with
// the routing fields overlaid and missing firmware versions filled in
// from the platform.
func (s *Service) assembleSnapshot(ctx context.Context, event Event) (ruleengine.Snapshot, error) {
	snapshot := make(ruleengine.Snapshot, len(event.Body)+4)
	for key, value := range event.Body {
		snapshot[key] = value
	}

	snapshot["device"] = event.DeviceUID
	if len(event.Fleets) > 0 {
		snapshot["fleet"] = event.Fleets[0]

		fleets := make([]any, len(event.Fleets))
		for i, fleet := range event.Fleets {
			fleets[i] = fleet
		}
		snapshot["fleets"] = fleets
	}

	for _, target := range s.config.TargetPriority {
		key := firmwareKey(target)
		if _, present := snapshot[key]; present {
			continue
		}

		version, err := s.api.CurrentFirmwareVersion(ctx, event.DeviceUID, platform.Target(target))
		if err != nil {
			// A target with no update history is not an error; the field
			// simply stays absent and rules on it will not match.
			if errors.Is(err, platform.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if version == "" {
			continue
		}

		snapshot[key] = version
	}

	return snapshot, nil
}

// pendingTarget returns the first configured target with an update still
// in flight, or empty when none is.
func (s *Service) pendingTarget(ctx context.Context, deviceUID string) (string, error) {
	for _, target := range s.config.TargetPriority {
		status, err := s.api.UpdateStatus(ctx, deviceUID, platform.Target(target))
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				continue
			}
			return "", err
		}

		if status.InProgress() {
			return target, nil
		}
	}

	return "", nil
}

// deferAll marks every targeted update as deferred because of the named
// in-flight update. Targets the rule does not version still come back as
// "none" so the outcome covers the full priority list.
func (s *Service) deferAll(snapshot ruleengine.Snapshot, targets ruleengine.TargetVersions, pending string) []Action {
	ordered := s.orderedTargets(targets)
	actions := make([]Action, 0, len(ordered))

	for _, target := range ordered {
		action := Action{
			Target: target,
			From:   versionOf(snapshot[firmwareKey(target)]),
		}

		if desired, ok := targets[target]; ok {
			action.To = desired
			action.Status = StatusDeferred
			action.Detail = fmt.Sprintf("%s update already in progress", pending)
		} else {
			action.Status = StatusNone
		}

		actions = append(actions, action)
	}

	return actions
}

// applyTarget settles a single target: nothing to do, already there, or
// resolve the image and request the update.
func (s *Service) applyTarget(ctx context.Context, deviceUID string, snapshot ruleengine.Snapshot, target, desired string) (Action, error) {
	current := versionOf(snapshot[firmwareKey(target)])

	if desired == "" {
		return Action{Target: target, From: current, Status: StatusNone}, nil
	}

	if desired == current {
		return Action{
			Target: target,
			From:   current,
			To:     desired,
			Status: StatusSkipped,
			Detail: "already at the desired version",
		}, nil
	}

	cat, err := s.catalog.Get(ctx, s.config.ProjectUID)
	if err != nil && !errors.Is(err, catalog.ErrStaleServe) {
		return Action{}, fmt.Errorf("failed to resolve firmware catalog: %w", err)
	}

	filename, err := cat.Filename(target, desired)
	if err != nil {
		return Action{}, err
	}

	if err := s.api.RequestUpdate(ctx, deviceUID, platform.Target(target), filename); err != nil {
		return Action{}, err
	}

	return Action{
		Target: target,
		From:   current,
		To:     desired,
		Status: StatusRequested,
		Detail: fmt.Sprintf("image %s", filename),
	}, nil
}

// orderedTargets fixes the order update requests are issued in: the
// configured priority first, then any other target the rule names in
// sorted order. A notecard update can reboot the device, so it must not
// trail a host update it would interrupt.
func (s *Service) orderedTargets(targets ruleengine.TargetVersions) []string {
	ordered := make([]string, 0, len(s.config.TargetPriority)+len(targets))
	ordered = append(ordered, s.config.TargetPriority...)

	known := make(map[string]bool, len(s.config.TargetPriority))
	for _, target := range s.config.TargetPriority {
		known[target] = true
	}

	var extras []string
	for target := range targets {
		if !known[target] {
			extras = append(extras, target)
		}
	}
	sort.Strings(extras)

	return append(ordered, extras...)
}

// finish counts the outcome's actions, persists it best-effort and logs
// the decision.
func (s *Service) finish(ctx context.Context, log *slog.Logger, outcome Outcome) Outcome {
	for _, action := range outcome.Actions {
		observability.UpdaterActionsTotal.WithLabelValues(action.Target, string(action.Status)).Inc()
	}

	s.record(ctx, log, outcome)

	log.Info("device check processed",
		slog.Bool("matched", outcome.Matched),
		slog.String("rule_id", outcome.RuleID),
		slog.Int("actions", len(outcome.Actions)),
	)

	return outcome
}

// record persists the outcome when a recorder is wired. The decision log
// is an audit trail, not part of the decision, so failures only warn.
func (s *Service) record(ctx context.Context, log *slog.Logger, outcome Outcome) {
	if s.recorder == nil {
		return
	}

	if err := s.recorder.Record(ctx, outcome); err != nil {
		observability.UpdaterDecisionWrites.WithLabelValues("fail").Inc()
		log.Warn("failed to record decision", slog.Any("error", err))
		return
	}

	observability.UpdaterDecisionWrites.WithLabelValues("success").Inc()
}

// firmwareKey is the snapshot field carrying a target's reported firmware.
func firmwareKey(target string) string {
	return "firmware_" + target
}

// versionOf extracts a version from a firmware snapshot field: a plain
// string is the version itself, a mapping contributes its "version" key.
func versionOf(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		version, _ := v["version"].(string)
		return version
	case ruleengine.Snapshot:
		version, _ := v["version"].(string)
		return version
	}

	return ""
}
