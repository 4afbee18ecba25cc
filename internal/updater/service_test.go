package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr-labs/brokkr/internal/catalog"
	"github.com/brokkr-labs/brokkr/internal/platform"
	"github.com/brokkr-labs/brokkr/internal/ruleengine"
	"github.com/brokkr-labs/brokkr/internal/testsupport"
)

const (
	testProject = "app:123e4567-e89b-12d3-a456-426614174000"
	testDevice  = "dev:864475012345678"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type updateRequest struct {
	Target   platform.Target
	Filename string
}

// fakeAPI scripts the platform client. Call order is recorded so tests can
// assert on priority sequencing.
type fakeAPI struct {
	versions   map[platform.Target]string
	versionErr map[platform.Target]error
	statuses   map[platform.Target]platform.DFUStatus
	statusErr  error
	requestErr error

	historyCalls []platform.Target
	statusCalls  []platform.Target
	requests     []updateRequest
}

func (f *fakeAPI) CurrentFirmwareVersion(_ context.Context, _ string, target platform.Target) (string, error) {
	f.historyCalls = append(f.historyCalls, target)
	if err := f.versionErr[target]; err != nil {
		return "", err
	}
	return f.versions[target], nil
}

func (f *fakeAPI) UpdateStatus(_ context.Context, _ string, target platform.Target) (platform.DFUStatus, error) {
	f.statusCalls = append(f.statusCalls, target)
	if f.statusErr != nil {
		return platform.DFUStatus{}, f.statusErr
	}
	return f.statuses[target], nil
}

func (f *fakeAPI) RequestUpdate(_ context.Context, _ string, target platform.Target, filename string) error {
	if f.requestErr != nil {
		return f.requestErr
	}
	f.requests = append(f.requests, updateRequest{Target: target, Filename: filename})
	return nil
}

type fakeCatalog struct {
	cat   *catalog.Catalog
	err   error
	calls int
}

func (f *fakeCatalog) Get(_ context.Context, _ string) (*catalog.Catalog, error) {
	f.calls++
	return f.cat, f.err
}

type fakeRecorder struct {
	outcomes []Outcome
	err      error
}

func (f *fakeRecorder) Record(_ context.Context, outcome Outcome) error {
	if f.err != nil {
		return f.err
	}
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{cat: catalog.NewCatalog([]catalog.Image{
		{Target: "notecard", Version: "8.1.3.17074", Filename: "notecard-8.1.3.17074.bin"},
		{Target: "host", Version: "3.1.2", Filename: "host-3.1.2.bin"},
	})}
}

// upToDateAPI reports versions matching nothing in particular: tests
// override what they care about.
func testAPI() *fakeAPI {
	return &fakeAPI{
		versions: map[platform.Target]string{
			platform.TargetNotecard: "8.1.2.16425",
			platform.TargetHost:     "3.0.0",
		},
		versionErr: map[platform.Target]error{},
		statuses:   map[platform.Target]platform.DFUStatus{},
	}
}

func newService(api *fakeAPI, cat *fakeCatalog, recorder Recorder, rules ruleengine.RuleSet) *Service {
	return New(testLogger(), Config{ProjectUID: testProject}, ruleengine.New(testLogger()), rules, cat, api, recorder)
}

// upgradeRules unconditionally converges both targets.
func upgradeRules() ruleengine.RuleSet {
	return ruleengine.NewRuleSet(ruleengine.Rule{
		ID: "upgrade",
		Targets: ruleengine.TargetVersions{
			"notecard": "8.1.3.17074",
			"host":     "3.1.2",
		},
	})
}

// --- Happy Paths ---

func TestService_Process_RequestsUpdates(t *testing.T) {
	t.Run("Should request updates for outdated targets in priority order", func(t *testing.T) {
		api := testAPI()
		recorder := &fakeRecorder{}
		svc := newService(api, testCatalog(), recorder, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		assert.True(t, outcome.Matched)
		assert.Equal(t, "upgrade", outcome.RuleID)
		assert.Equal(t, []Action{
			{Target: "notecard", From: "8.1.2.16425", To: "8.1.3.17074", Status: StatusRequested, Detail: "image notecard-8.1.3.17074.bin"},
			{Target: "host", From: "3.0.0", To: "3.1.2", Status: StatusRequested, Detail: "image host-3.1.2.bin"},
		}, outcome.Actions)

		// Notecard strictly before host.
		assert.Equal(t, []updateRequest{
			{Target: platform.TargetNotecard, Filename: "notecard-8.1.3.17074.bin"},
			{Target: platform.TargetHost, Filename: "host-3.1.2.bin"},
		}, api.requests)

		require.Len(t, recorder.outcomes, 1)
		assert.Equal(t, outcome, recorder.outcomes[0])
	})

	t.Run("Should skip targets already at the desired version", func(t *testing.T) {
		api := testAPI()
		api.versions[platform.TargetNotecard] = "8.1.3.17074"
		svc := newService(api, testCatalog(), nil, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		require.Len(t, outcome.Actions, 2)
		assert.Equal(t, StatusSkipped, outcome.Actions[0].Status)
		assert.Equal(t, StatusRequested, outcome.Actions[1].Status)
		require.Len(t, api.requests, 1)
		assert.Equal(t, platform.TargetHost, api.requests[0].Target)
	})

	t.Run("Should report none for targets the rule does not version", func(t *testing.T) {
		api := testAPI()
		rules := ruleengine.NewRuleSet(ruleengine.Rule{
			Targets: ruleengine.TargetVersions{"host": "3.1.2"},
		})
		svc := newService(api, testCatalog(), nil, rules)

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		require.Len(t, outcome.Actions, 2)
		assert.Equal(t, Action{Target: "notecard", From: "8.1.2.16425", Status: StatusNone}, outcome.Actions[0])
		assert.Equal(t, StatusRequested, outcome.Actions[1].Status)
	})

	t.Run("Should order extra rule targets after the configured priority", func(t *testing.T) {
		api := testAPI()
		cat := &fakeCatalog{cat: catalog.NewCatalog([]catalog.Image{
			{Target: "modem", Version: "2.0.0", Filename: "modem-2.0.0.bin"},
			{Target: "bootloader", Version: "1.1.0", Filename: "boot-1.1.0.bin"},
		})}
		rules := ruleengine.NewRuleSet(ruleengine.Rule{
			Targets: ruleengine.TargetVersions{"modem": "2.0.0", "bootloader": "1.1.0"},
		})
		svc := newService(api, cat, nil, rules)

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		var order []string
		for _, action := range outcome.Actions {
			order = append(order, action.Target)
		}
		assert.Equal(t, []string{"notecard", "host", "bootloader", "modem"}, order)
	})
}

func TestService_Process_NoWork(t *testing.T) {
	t.Run("Should return an unmatched outcome without touching the platform", func(t *testing.T) {
		api := testAPI()
		rules := ruleengine.NewRuleSet(ruleengine.Rule{
			Conditions: ruleengine.Conditions{"product": ruleengine.Eq("never-matches")},
			Targets:    ruleengine.TargetVersions{"notecard": "9.0.0"},
		})
		svc := newService(api, testCatalog(), nil, rules)

		body := ruleengine.Snapshot{
			"firmware_notecard": "8.1.2.16425",
			"firmware_host":     "3.0.0",
		}
		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice, Body: body})
		require.NoError(t, err)

		assert.False(t, outcome.Matched)
		assert.Empty(t, outcome.RuleID)
		assert.Empty(t, outcome.Actions)
		assert.Empty(t, api.historyCalls, "versions were supplied in the body")
		assert.Empty(t, api.statusCalls)
		assert.Empty(t, api.requests)
	})

	t.Run("Should report a guard rule without checking update status", func(t *testing.T) {
		api := testAPI()
		rules := ruleengine.NewRuleSet(ruleengine.Rule{ID: "requirements-met"})
		svc := newService(api, testCatalog(), nil, rules)

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		assert.True(t, outcome.Matched)
		assert.Equal(t, "requirements-met", outcome.RuleID)
		assert.Empty(t, outcome.Actions)
		assert.Empty(t, api.statusCalls)
		assert.Empty(t, api.requests)
	})
}

func TestService_Process_SnapshotAssembly(t *testing.T) {
	t.Run("Should overlay device and fleet fields for evaluation", func(t *testing.T) {
		api := testAPI()
		rules := ruleengine.NewRuleSet(ruleengine.Rule{
			ID: "fleet-gate",
			Conditions: ruleengine.Conditions{
				"device": ruleengine.Eq(testDevice),
				"fleet":  ruleengine.Eq("fleet:alpha"),
			},
		})
		svc := newService(api, testCatalog(), nil, rules)

		outcome, err := svc.Process(context.Background(), Event{
			DeviceUID: testDevice,
			Fleets:    []string{"fleet:alpha", "fleet:beta"},
		})
		require.NoError(t, err)
		assert.True(t, outcome.Matched)
	})

	t.Run("Should fill missing versions from the platform", func(t *testing.T) {
		api := testAPI()
		rules := ruleengine.NewRuleSet(ruleengine.Rule{
			ID: "at-current",
			Conditions: ruleengine.Conditions{
				"firmware_notecard": ruleengine.Eq("8.1.2.16425"),
			},
		})
		svc := newService(api, testCatalog(), nil, rules)

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		assert.True(t, outcome.Matched)
		assert.Equal(t, []platform.Target{platform.TargetNotecard, platform.TargetHost}, api.historyCalls)
	})

	t.Run("Should not fetch versions the body already carries", func(t *testing.T) {
		api := testAPI()
		svc := newService(api, testCatalog(), nil, ruleengine.DefaultRuleSet())

		body := ruleengine.Snapshot{"firmware_notecard": "8.1.2.16425"}
		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice, Body: body})
		require.NoError(t, err)

		assert.Equal(t, []platform.Target{platform.TargetHost}, api.historyCalls)
	})

	t.Run("Should tolerate devices with no update history", func(t *testing.T) {
		api := testAPI()
		api.versionErr[platform.TargetHost] = fmt.Errorf("wrapped: %w", platform.ErrNotFound)
		svc := newService(api, testCatalog(), nil, ruleengine.DefaultRuleSet())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)
		assert.True(t, outcome.Matched)
	})

	t.Run("Should read versions from structured firmware fields", func(t *testing.T) {
		api := testAPI()
		svc := newService(api, testCatalog(), nil, upgradeRules())

		body := ruleengine.Snapshot{
			"firmware_notecard": map[string]any{"version": "8.1.3.17074", "built": "2024-01-10"},
			"firmware_host":     "3.1.2",
		}
		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice, Body: body})
		require.NoError(t, err)

		// Both already at target: nothing requested.
		require.Len(t, outcome.Actions, 2)
		assert.Equal(t, StatusSkipped, outcome.Actions[0].Status)
		assert.Equal(t, "8.1.3.17074", outcome.Actions[0].From)
		assert.Equal(t, StatusSkipped, outcome.Actions[1].Status)
		assert.Empty(t, api.requests)
	})
}

// --- DFU Pending Guard ---

func TestService_Process_PendingGuard(t *testing.T) {
	t.Run("Should defer every update while one is in flight", func(t *testing.T) {
		api := testAPI()
		api.statuses[platform.TargetNotecard] = platform.DFUStatus{Requested: true}
		recorder := &fakeRecorder{}
		svc := newService(api, testCatalog(), recorder, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		require.Len(t, outcome.Actions, 2)
		for _, action := range outcome.Actions {
			assert.Equal(t, StatusDeferred, action.Status)
			assert.Equal(t, "notecard update already in progress", action.Detail)
		}
		assert.Empty(t, api.requests)

		// The held-back decision still lands in the log.
		require.Len(t, recorder.outcomes, 1)
	})

	t.Run("Should stop status checks at the first pending target", func(t *testing.T) {
		api := testAPI()
		api.statuses[platform.TargetNotecard] = platform.DFUStatus{Started: true}
		svc := newService(api, testCatalog(), nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)

		assert.Equal(t, []platform.Target{platform.TargetNotecard}, api.statusCalls)
	})

	t.Run("Should proceed when update cycles are complete", func(t *testing.T) {
		api := testAPI()
		api.statuses[platform.TargetNotecard] = platform.DFUStatus{Requested: true, Started: true, Completed: true}
		svc := newService(api, testCatalog(), nil, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)
		assert.Len(t, api.requests, 2)
		assert.Equal(t, StatusRequested, outcome.Actions[0].Status)
	})
}

// --- Error Handling ---

func TestService_Process_Failures(t *testing.T) {
	t.Run("Should reject an event without a device UID", func(t *testing.T) {
		svc := newService(testAPI(), testCatalog(), nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{})
		assert.ErrorContains(t, err, "device UID cannot be empty")
	})

	t.Run("Should fail when the catalog lacks the desired image", func(t *testing.T) {
		api := testAPI()
		cat := &fakeCatalog{cat: catalog.NewCatalog(nil)}
		recorder := &fakeRecorder{}
		svc := newService(api, cat, recorder, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		assert.ErrorContains(t, err, `no firmware image for target "notecard"`)
		assert.Empty(t, api.requests)
		assert.Empty(t, recorder.outcomes, "failed checks are not recorded")
	})

	t.Run("Should fail when the catalog is unavailable", func(t *testing.T) {
		api := testAPI()
		cat := &fakeCatalog{err: errors.New("no catalog available")}
		svc := newService(api, cat, nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		assert.ErrorContains(t, err, "failed to resolve firmware catalog")
	})

	t.Run("Should proceed on a stale catalog", func(t *testing.T) {
		api := testAPI()
		cat := testCatalog()
		cat.err = fmt.Errorf("catalog refresh for project %s failed (boom): %w", testProject, catalog.ErrStaleServe)
		svc := newService(api, cat, nil, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)
		assert.Len(t, api.requests, 2)
		assert.Equal(t, StatusRequested, outcome.Actions[0].Status)
	})

	t.Run("Should fail when the update request fails", func(t *testing.T) {
		api := testAPI()
		api.requestErr = errors.New("platform down")
		svc := newService(api, testCatalog(), nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		assert.ErrorContains(t, err, "platform down")
	})

	t.Run("Should fail when current versions cannot be fetched", func(t *testing.T) {
		api := testAPI()
		api.versionErr[platform.TargetNotecard] = errors.New("history unavailable")
		svc := newService(api, testCatalog(), nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		assert.ErrorContains(t, err, "history unavailable")
	})

	t.Run("Should fail when the status check fails", func(t *testing.T) {
		api := testAPI()
		api.statusErr = errors.New("status unavailable")
		svc := newService(api, testCatalog(), nil, upgradeRules())

		_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		assert.ErrorContains(t, err, "status unavailable")
	})

	t.Run("Should warn but continue when the recorder fails", func(t *testing.T) {
		api := testAPI()
		recorder := &fakeRecorder{err: errors.New("db down")}
		svc := newService(api, testCatalog(), recorder, upgradeRules())

		outcome, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
		require.NoError(t, err)
		assert.True(t, outcome.Matched)
		assert.Len(t, api.requests, 2)
	})
}

// --- Construction ---

func TestNew_Validation(t *testing.T) {
	engine := ruleengine.New(testLogger())
	rules := ruleengine.DefaultRuleSet()
	cfg := Config{ProjectUID: testProject}

	t.Run("Should panic when the engine is nil", func(t *testing.T) {
		assert.PanicsWithValue(t, "updater: engine cannot be nil", func() {
			New(testLogger(), cfg, nil, rules, testCatalog(), testAPI(), nil)
		})
	})

	t.Run("Should panic when the catalog getter is nil", func(t *testing.T) {
		assert.PanicsWithValue(t, "updater: catalog getter cannot be nil", func() {
			New(testLogger(), cfg, engine, rules, nil, testAPI(), nil)
		})
	})

	t.Run("Should panic when the platform API is nil", func(t *testing.T) {
		assert.PanicsWithValue(t, "updater: platform API cannot be nil", func() {
			New(testLogger(), cfg, engine, rules, testCatalog(), nil, nil)
		})
	})

	t.Run("Should panic when the project UID is empty", func(t *testing.T) {
		assert.PanicsWithValue(t, "updater: project UID cannot be empty", func() {
			New(testLogger(), Config{}, engine, rules, testCatalog(), testAPI(), nil)
		})
	})

	t.Run("Should default the target priority", func(t *testing.T) {
		svc := New(testLogger(), cfg, engine, rules, testCatalog(), testAPI(), nil)
		assert.Equal(t, []string{"notecard", "host"}, svc.config.TargetPriority)
	})
}

func TestVersionOf(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "Should take a plain string as the version", value: "8.1.3", want: "8.1.3"},
		{name: "Should read version from a generic mapping", value: map[string]any{"version": "8.1.3"}, want: "8.1.3"},
		{name: "Should read version from a nested snapshot", value: ruleengine.Snapshot{"version": "8.1.3"}, want: "8.1.3"},
		{name: "Should ignore a mapping without a version", value: map[string]any{"built": "2024-01-10"}, want: ""},
		{name: "Should ignore non-string values", value: 813, want: ""},
		{name: "Should ignore nil", value: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versionOf(tt.value))
		})
	}
}

// --- Metrics ---

func TestService_Metrics(t *testing.T) {
	t.Run("Should count actions and decision writes", func(t *testing.T) {
		api := testAPI()
		recorder := &fakeRecorder{}
		svc := newService(api, testCatalog(), recorder, upgradeRules())

		requested := map[string]string{"target": "notecard", "status": "requested"}
		writes := map[string]string{"status": "success"}

		testsupport.AssertMetricDelta(t, "brokkr_updater_actions_total", requested, 1, func() {
			testsupport.AssertMetricDelta(t, "brokkr_updater_decision_writes_total", writes, 1, func() {
				_, err := svc.Process(context.Background(), Event{DeviceUID: testDevice})
				require.NoError(t, err)
			})
		})
	})
}
